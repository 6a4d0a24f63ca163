// Package model_selection provides train/test splitting, cross-validation
// and hyperparameter search for churnkit estimators.
package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// KFoldSplitter defines interface for cross-validation splitters
type KFoldSplitter interface {
	Split(X, y mat.Matrix) []CVFold
	GetNSplits() int
}

// CVFold represents a single fold in cross-validation
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed int) *KFold {
	if nSplits < 2 {
		nSplits = 5 // Default to 5-fold
	}
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold
func (kf *KFold) Split(X, _ mat.Matrix) []CVFold {
	nSamples, _ := X.Dims()

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}

	if kf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(kf.RandomSeed), uint64(kf.RandomSeed)))
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	folds := make([]CVFold, kf.NSplits)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits

	currentIdx := 0
	for i := 0; i < kf.NSplits; i++ {
		testSize := foldSize
		if i < remainder {
			testSize++
		}

		testIndices := make([]int, testSize)
		copy(testIndices, indices[currentIdx:currentIdx+testSize])

		testSet := make(map[int]bool, testSize)
		for _, idx := range testIndices {
			testSet[idx] = true
		}
		trainIndices := make([]int, 0, nSamples-testSize)
		for _, idx := range indices {
			if !testSet[idx] {
				trainIndices = append(trainIndices, idx)
			}
		}

		folds[i] = CVFold{
			TrainIndices: trainIndices,
			TestIndices:  testIndices,
		}

		currentIdx += testSize
	}

	return folds
}

// StratifiedKFold implements stratified k-fold cross-validation
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed int) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold. Each class
// is distributed across the folds so per-fold class proportions track the
// full data.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) []CVFold {
	nSamples, _ := X.Dims()

	classIndices := make(map[float64][]int)
	for i := 0; i < nSamples; i++ {
		label := y.At(i, 0)
		classIndices[label] = append(classIndices[label], i)
	}

	labels := make([]float64, 0, len(classIndices))
	for label := range classIndices {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	if skf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(skf.RandomSeed), uint64(skf.RandomSeed)))
		for _, label := range labels {
			indices := classIndices[label]
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
	}

	folds := make([]CVFold, skf.NSplits)
	for i := 0; i < skf.NSplits; i++ {
		folds[i] = CVFold{
			TrainIndices: make([]int, 0),
			TestIndices:  make([]int, 0),
		}
	}

	// Deal each class across folds
	for _, label := range labels {
		indices := classIndices[label]
		nClass := len(indices)
		foldSize := nClass / skf.NSplits
		remainder := nClass % skf.NSplits

		currentIdx := 0
		for i := 0; i < skf.NSplits; i++ {
			testSize := foldSize
			if i < remainder {
				testSize++
			}

			for j := 0; j < testSize && currentIdx < nClass; j++ {
				folds[i].TestIndices = append(folds[i].TestIndices, indices[currentIdx])
				currentIdx++
			}
		}
	}

	// Train sets are the complement of each test set
	for i := 0; i < skf.NSplits; i++ {
		testSet := make(map[int]bool)
		for _, idx := range folds[i].TestIndices {
			testSet[idx] = true
		}

		for j := 0; j < nSamples; j++ {
			if !testSet[j] {
				folds[i].TrainIndices = append(folds[i].TrainIndices, j)
			}
		}
	}

	return folds
}

// SplitOption configures TrainTestSplit
type SplitOption func(*splitOptions)

type splitOptions struct {
	testSize float64
	stratify bool
	seed     int
	seeded   bool
}

// WithTestSize sets the fraction of rows held out for testing (default 0.25)
func WithTestSize(fraction float64) SplitOption {
	return func(o *splitOptions) {
		o.testSize = fraction
	}
}

// WithStratify keeps per-class proportions equal in both halves
func WithStratify() SplitOption {
	return func(o *splitOptions) {
		o.stratify = true
	}
}

// WithSeed makes the split deterministic
func WithSeed(seed int) SplitOption {
	return func(o *splitOptions) {
		o.seed = seed
		o.seeded = true
	}
}

// TrainTestSplit shuffles the rows of X and y together and splits them into
// a train and a test half. With WithStratify each class contributes to the
// test half in proportion to its size, with at least one test row per class
// that has two or more rows.
func TrainTestSplit(X, y mat.Matrix, opts ...SplitOption) (XTrain, XTest, yTrain, yTest *mat.Dense, err error) {
	o := splitOptions{testSize: 0.25}
	for _, opt := range opts {
		opt(&o)
	}

	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return nil, nil, nil, nil, kiterrors.Wrap(kiterrors.ErrEmptyData, "TrainTestSplit")
	}
	if yCols != 1 {
		return nil, nil, nil, nil, kiterrors.NewValueError("TrainTestSplit", "y must be a column vector")
	}
	if yRows != nSamples {
		return nil, nil, nil, nil, kiterrors.NewDimensionError("TrainTestSplit", nSamples, yRows, 0)
	}
	if o.testSize <= 0 || o.testSize >= 1 {
		return nil, nil, nil, nil, kiterrors.NewValidationError("test_size", "must be in (0, 1)", o.testSize)
	}
	if nSamples < 2 {
		return nil, nil, nil, nil, kiterrors.NewValueError("TrainTestSplit", "need at least 2 samples to split")
	}

	var r *rand.Rand
	if o.seeded {
		r = rand.New(rand.NewPCG(uint64(o.seed), uint64(o.seed)))
	} else {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var trainIdx, testIdx []int
	if o.stratify {
		trainIdx, testIdx = stratifiedSplit(y, nSamples, o.testSize, r)
		if len(testIdx) == 0 || len(trainIdx) == 0 {
			return nil, nil, nil, nil, kiterrors.NewValueError("TrainTestSplit",
				"stratified split needs at least one class with two or more rows")
		}
	} else {
		indices := make([]int, nSamples)
		for i := range indices {
			indices[i] = i
		}
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		nTest := clampSplitCount(int(math.Round(float64(nSamples)*o.testSize)), nSamples)
		testIdx = indices[:nTest]
		trainIdx = indices[nTest:]
	}

	XTrain, yTrain = subsetRows(X, y, trainIdx)
	XTest, yTest = subsetRows(X, y, testIdx)
	return XTrain, XTest, yTrain, yTest, nil
}

// stratifiedSplit draws the test rows class by class, then shuffles both
// halves so rows are not grouped by label.
func stratifiedSplit(y mat.Matrix, nSamples int, testSize float64, r *rand.Rand) (trainIdx, testIdx []int) {
	classIndices := make(map[float64][]int)
	for i := 0; i < nSamples; i++ {
		label := y.At(i, 0)
		classIndices[label] = append(classIndices[label], i)
	}

	labels := make([]float64, 0, len(classIndices))
	for label := range classIndices {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	for _, label := range labels {
		indices := classIndices[label]
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		nClass := len(indices)
		nTest := int(math.Round(float64(nClass) * testSize))
		if nTest < 1 && nClass >= 2 {
			nTest = 1
		}
		if nTest > nClass-1 {
			nTest = nClass - 1
		}
		if nTest < 0 {
			nTest = 0
		}

		testIdx = append(testIdx, indices[:nTest]...)
		trainIdx = append(trainIdx, indices[nTest:]...)
	}

	r.Shuffle(len(testIdx), func(i, j int) {
		testIdx[i], testIdx[j] = testIdx[j], testIdx[i]
	})
	r.Shuffle(len(trainIdx), func(i, j int) {
		trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
	})
	return trainIdx, testIdx
}

func clampSplitCount(nTest, nSamples int) int {
	if nTest < 1 {
		nTest = 1
	}
	if nTest > nSamples-1 {
		nTest = nSamples - 1
	}
	return nTest
}

// subsetRows materializes a row subset of X and y in index order.
func subsetRows(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	_, xCols := X.Dims()
	_, yCols := y.Dims()

	xSubset := mat.NewDense(len(indices), xCols, nil)
	ySubset := mat.NewDense(len(indices), yCols, nil)
	for i, idx := range indices {
		for j := 0; j < xCols; j++ {
			xSubset.Set(i, j, X.At(idx, j))
		}
		for j := 0; j < yCols; j++ {
			ySubset.Set(i, j, y.At(idx, j))
		}
	}
	return xSubset, ySubset
}
