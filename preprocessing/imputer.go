package preprocessing

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/core/parallel"
	"github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Imputation strategies accepted by SimpleImputer.
const (
	StrategyMean         = "mean"
	StrategyMedian       = "median"
	StrategyMostFrequent = "most_frequent"
	StrategyConstant     = "constant"
)

// SimpleImputer はscikit-learn互換の単変量欠損値補完器
// 各列の統計量（平均・中央値・最頻値・定数）でNaNセルを埋める
type SimpleImputer struct {
	model.StateManager

	// Strategy は補完戦略 ("mean", "median", "most_frequent", "constant")
	Strategy string

	// FillValue はStrategy="constant"のときに使う値
	FillValue float64

	// Statistics は学習済みの列ごとの補完値
	Statistics []float64

	// NFeatures は特徴量の数
	NFeatures int
}

// NewSimpleImputer は指定した戦略で補完器を作成する
//
// 使用例:
//
//	imp := preprocessing.NewSimpleImputer(preprocessing.StrategyMedian)
//	err := imp.Fit(X)
//	XFilled, err := imp.Transform(X)
func NewSimpleImputer(strategy string) *SimpleImputer {
	return &SimpleImputer{Strategy: strategy}
}

// NewSimpleImputerConstant は定数補完の補完器を作成する
func NewSimpleImputerConstant(fillValue float64) *SimpleImputer {
	return &SimpleImputer{Strategy: StrategyConstant, FillValue: fillValue}
}

// Fit は各列の補完値を計算する
// NaN以外の観測値だけが統計に使われる
func (imp *SimpleImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("SimpleImputer.Fit", "empty data", errors.ErrEmptyData)
	}

	switch imp.Strategy {
	case StrategyMean, StrategyMedian, StrategyMostFrequent, StrategyConstant:
	default:
		return errors.NewValueError("SimpleImputer.Fit",
			fmt.Sprintf("unknown strategy %q", imp.Strategy))
	}

	imp.NFeatures = c
	imp.Statistics = make([]float64, c)

	for j := 0; j < c; j++ {
		if imp.Strategy == StrategyConstant {
			imp.Statistics[j] = imp.FillValue
			continue
		}

		observed := make([]float64, 0, r)
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if !math.IsNaN(v) {
				observed = append(observed, v)
			}
		}
		if len(observed) == 0 {
			return errors.NewValueError("SimpleImputer.Fit",
				fmt.Sprintf("column %d has no observed values", j))
		}

		switch imp.Strategy {
		case StrategyMean:
			sum := 0.0
			for _, v := range observed {
				sum += v
			}
			imp.Statistics[j] = sum / float64(len(observed))
		case StrategyMedian:
			sort.Float64s(observed)
			n := len(observed)
			if n%2 == 1 {
				imp.Statistics[j] = observed[n/2]
			} else {
				imp.Statistics[j] = (observed[n/2-1] + observed[n/2]) / 2
			}
		case StrategyMostFrequent:
			counts := make(map[float64]int, len(observed))
			for _, v := range observed {
				counts[v]++
			}
			best := observed[0]
			bestN := 0
			for v, n := range counts {
				// 同数の場合は小さい値を選ぶ
				if n > bestN || (n == bestN && v < best) {
					best, bestN = v, n
				}
			}
			imp.Statistics[j] = best
		}
	}

	imp.SetDimensions(c, r)
	imp.SetFitted()
	return nil
}

// Transform はNaNセルを学習済みの補完値で置き換える
func (imp *SimpleImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := imp.RequireFitted("SimpleImputer", "Transform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if c != imp.NFeatures {
		return nil, errors.NewDimensionError("SimpleImputer.Transform", imp.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				v = imp.Statistics[j]
			}
			result.Set(i, j, v)
		}
	}
	return result, nil
}

// FitTransform は学習と変換を一度に行う
func (imp *SimpleImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := imp.Fit(X); err != nil {
		return nil, err
	}
	return imp.Transform(X)
}

// GetParams は補完器のパラメータを取得する
func (imp *SimpleImputer) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"strategy":   imp.Strategy,
		"fill_value": imp.FillValue,
	}
}

// String は補完器の文字列表現を返す
func (imp *SimpleImputer) String() string {
	return fmt.Sprintf("SimpleImputer(strategy=%q)", imp.Strategy)
}

// KNNImputer fills missing cells from the k nearest training rows, using
// the masked euclidean distance that skips coordinates missing on either
// side. It mirrors sklearn.impute.KNNImputer with uniform or distance
// weighting.
type KNNImputer struct {
	model.StateManager

	// NNeighbors is how many donor rows each missing cell draws from.
	NNeighbors int

	// Weights is "uniform" or "distance".
	Weights string

	// Train keeps the fitted reference rows, missing cells included.
	Train *mat.Dense

	// Fallback holds per-column observed means, used when a cell has no
	// donor with that column observed.
	Fallback []float64

	// NFeatures is the number of features seen at fit time.
	NFeatures int
}

// NewKNNImputer creates a KNNImputer with uniform weights.
func NewKNNImputer(nNeighbors int) *KNNImputer {
	return &KNNImputer{NNeighbors: nNeighbors, Weights: "uniform"}
}

// NewKNNImputerWeighted creates a KNNImputer with the given weighting.
func NewKNNImputerWeighted(nNeighbors int, weights string) *KNNImputer {
	return &KNNImputer{NNeighbors: nNeighbors, Weights: weights}
}

// Fit stores the training rows and per-column fallback means.
func (imp *KNNImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("KNNImputer.Fit", "empty data", errors.ErrEmptyData)
	}
	if imp.NNeighbors <= 0 {
		return errors.NewValidationError("n_neighbors", "must be positive", imp.NNeighbors)
	}
	if imp.Weights != "uniform" && imp.Weights != "distance" {
		return errors.NewValueError("KNNImputer.Fit",
			fmt.Sprintf("unknown weights %q", imp.Weights))
	}

	imp.NFeatures = c
	imp.Train = mat.DenseCopyOf(X)
	imp.Fallback = make([]float64, c)
	for j := 0; j < c; j++ {
		sum, n := 0.0, 0
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			return errors.NewValueError("KNNImputer.Fit",
				fmt.Sprintf("column %d has no observed values", j))
		}
		imp.Fallback[j] = sum / float64(n)
	}

	imp.SetDimensions(c, r)
	imp.SetFitted()
	return nil
}

// Transform imputes every missing cell of X from its nearest neighbors in
// the training data. Rows are processed in parallel.
func (imp *KNNImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := imp.RequireFitted("KNNImputer", "Transform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if c != imp.NFeatures {
		return nil, errors.NewDimensionError("KNNImputer.Transform", imp.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, X.At(i, j))
		}
	}

	parallel.ParallelizeWithThreshold(r, 64, func(start, end int) {
		for i := start; i < end; i++ {
			imp.imputeRow(result, i)
		}
	})
	return result, nil
}

// FitTransform fits on X and imputes the same matrix.
func (imp *KNNImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := imp.Fit(X); err != nil {
		return nil, err
	}
	return imp.Transform(X)
}

// GetParams returns the imputer hyperparameters.
func (imp *KNNImputer) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_neighbors": imp.NNeighbors,
		"weights":     imp.Weights,
	}
}

type donor struct {
	dist  float64
	index int
}

// imputeRow fills the missing cells of row i in-place.
func (imp *KNNImputer) imputeRow(X *mat.Dense, i int) {
	c := imp.NFeatures
	row := make([]float64, c)
	hasMissing := false
	for j := 0; j < c; j++ {
		row[j] = X.At(i, j)
		if math.IsNaN(row[j]) {
			hasMissing = true
		}
	}
	if !hasMissing {
		return
	}

	nTrain, _ := imp.Train.Dims()
	donors := make([]donor, 0, nTrain)
	for t := 0; t < nTrain; t++ {
		d, ok := maskedEuclidean(row, imp.Train.RawRowView(t))
		if ok {
			donors = append(donors, donor{dist: d, index: t})
		}
	}
	sort.Slice(donors, func(a, b int) bool {
		if donors[a].dist != donors[b].dist {
			return donors[a].dist < donors[b].dist
		}
		return donors[a].index < donors[b].index
	})

	for j := 0; j < c; j++ {
		if !math.IsNaN(row[j]) {
			continue
		}

		sum, weightSum := 0.0, 0.0
		used := 0
		for _, d := range donors {
			if used == imp.NNeighbors {
				break
			}
			v := imp.Train.At(d.index, j)
			if math.IsNaN(v) {
				continue // donor misses this column too
			}
			w := 1.0
			if imp.Weights == "distance" {
				if d.dist < 1e-12 {
					// exact match dominates
					sum, weightSum = v, 1.0
					used = imp.NNeighbors
					break
				}
				w = 1.0 / d.dist
			}
			sum += w * v
			weightSum += w
			used++
		}

		if weightSum > 0 {
			X.Set(i, j, sum/weightSum)
		} else {
			X.Set(i, j, imp.Fallback[j])
		}
	}
}

// maskedEuclidean computes the nan-aware euclidean distance between two
// rows, rescaled by the fraction of usable coordinates. Returns false when
// no coordinate is observed in both rows.
func maskedEuclidean(a, b []float64) (float64, bool) {
	sum := 0.0
	shared := 0
	for j := range a {
		if math.IsNaN(a[j]) || math.IsNaN(b[j]) {
			continue
		}
		diff := a[j] - b[j]
		sum += diff * diff
		shared++
	}
	if shared == 0 {
		return 0, false
	}
	return math.Sqrt(sum * float64(len(a)) / float64(shared)), true
}
