// Package resample rebalances class distributions in labeled training data.
//
// Churn and fraud datasets are usually skewed toward the negative class.
// UpSample replicates minority rows until every class matches the majority
// count; DownSample discards majority rows until every class matches the
// minority count. Both keep X/y row pairing and report the source row of
// every output row.
package resample

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Option configures a resampling call
type Option func(*options)

type options struct {
	seed   uint64
	seeded bool
}

// WithSeed makes the resampling deterministic
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

func newRand(o options) *rand.Rand {
	if o.seeded {
		return rand.New(rand.NewPCG(o.seed, o.seed))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// UpSample resamples minority classes with replacement until every class
// reaches the majority count, then shuffles the combined rows. The returned
// indices give the original row behind each output row.
func UpSample(X, y mat.Matrix, opts ...Option) (*mat.Dense, *mat.Dense, []int, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	labels, byClass, err := groupByClass(X, y, "resample.UpSample")
	if err != nil {
		return nil, nil, nil, err
	}
	if len(labels) == 1 {
		return passthrough(X, y)
	}

	majority := 0
	for _, indices := range byClass {
		if len(indices) > majority {
			majority = len(indices)
		}
	}

	r := newRand(o)
	selected := make([]int, 0, majority*len(labels))
	for _, label := range labels {
		indices := byClass[label]
		selected = append(selected, indices...)
		for extra := majority - len(indices); extra > 0; extra-- {
			selected = append(selected, indices[r.IntN(len(indices))])
		}
	}

	r.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})
	XOut, yOut := takeRows(X, y, selected)
	return XOut, yOut, selected, nil
}

// DownSample samples majority classes without replacement until every class
// matches the minority count, then shuffles the combined rows. The returned
// indices give the original row behind each output row.
func DownSample(X, y mat.Matrix, opts ...Option) (*mat.Dense, *mat.Dense, []int, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	labels, byClass, err := groupByClass(X, y, "resample.DownSample")
	if err != nil {
		return nil, nil, nil, err
	}
	if len(labels) == 1 {
		return passthrough(X, y)
	}

	minority := -1
	for _, indices := range byClass {
		if minority < 0 || len(indices) < minority {
			minority = len(indices)
		}
	}

	r := newRand(o)
	selected := make([]int, 0, minority*len(labels))
	for _, label := range labels {
		indices := byClass[label]
		if len(indices) > minority {
			pool := make([]int, len(indices))
			copy(pool, indices)
			r.Shuffle(len(pool), func(i, j int) {
				pool[i], pool[j] = pool[j], pool[i]
			})
			indices = pool[:minority]
		}
		selected = append(selected, indices...)
	}

	r.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})
	XOut, yOut := takeRows(X, y, selected)
	return XOut, yOut, selected, nil
}

// groupByClass validates the inputs and maps each class label to its row
// indices. Labels come back sorted so the draw order is reproducible.
func groupByClass(X, y mat.Matrix, op string) ([]float64, map[float64][]int, error) {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return nil, nil, kiterrors.Wrap(kiterrors.ErrEmptyData, op)
	}
	if yCols != 1 {
		return nil, nil, kiterrors.NewValueError(op, "y must be a column vector")
	}
	if yRows != nSamples {
		return nil, nil, kiterrors.NewDimensionError(op, nSamples, yRows, 0)
	}

	byClass := make(map[float64][]int)
	for i := 0; i < nSamples; i++ {
		label := y.At(i, 0)
		byClass[label] = append(byClass[label], i)
	}

	labels := make([]float64, 0, len(byClass))
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Float64s(labels)
	return labels, byClass, nil
}

// passthrough copies single-class input unchanged with identity indices.
func passthrough(X, y mat.Matrix) (*mat.Dense, *mat.Dense, []int, error) {
	nSamples, _ := X.Dims()
	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	XOut, yOut := takeRows(X, y, indices)
	return XOut, yOut, indices, nil
}

// takeRows materializes the listed rows of X and y in the given order.
func takeRows(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	_, cols := X.Dims()
	XOut := mat.NewDense(len(indices), cols, nil)
	yOut := mat.NewDense(len(indices), 1, nil)
	for out, in := range indices {
		for j := 0; j < cols; j++ {
			XOut.Set(out, j, X.At(in, j))
		}
		yOut.Set(out, 0, y.At(in, 0))
	}
	return XOut, yOut
}
