// Package neighbors provides nearest-neighbor based estimators.
package neighbors

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/core/parallel"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Weighting modes for neighbor votes.
const (
	WeightsUniform  = "uniform"
	WeightsDistance = "distance"
)

// Supported distance metrics.
const (
	MetricEuclidean = "euclidean"
	MetricManhattan = "manhattan"
)

// KNeighborsClassifier implements the k-nearest neighbors vote.
// Compatible with scikit-learn's KNeighborsClassifier using brute-force
// search, which is exact and fast enough for course-sized tables.
type KNeighborsClassifier struct {
	state *model.StateManager

	// Hyperparameters
	nNeighbors int
	weights    string
	metric     string
	nJobs      int

	// Learned parameters (lazy learner, Fit memorizes the training set)
	trainX   *mat.Dense
	trainY   []int
	classes_ []int
}

// KNeighborsOption is a functional option for KNeighborsClassifier
type KNeighborsOption func(*KNeighborsClassifier)

// NewKNeighborsClassifier creates a new KNeighborsClassifier
func NewKNeighborsClassifier(opts ...KNeighborsOption) *KNeighborsClassifier {
	knn := &KNeighborsClassifier{
		state:      model.NewStateManager(),
		nNeighbors: 5,
		weights:    WeightsUniform,
		metric:     MetricEuclidean,
		nJobs:      1,
	}

	for _, opt := range opts {
		opt(knn)
	}

	return knn
}

// WithKNNNeighbors sets the number of neighbors to vote
func WithKNNNeighbors(k int) KNeighborsOption {
	return func(knn *KNeighborsClassifier) {
		knn.nNeighbors = k
	}
}

// WithKNNWeights sets the vote weighting ("uniform" or "distance")
func WithKNNWeights(weights string) KNeighborsOption {
	return func(knn *KNeighborsClassifier) {
		knn.weights = weights
	}
}

// WithKNNMetric sets the distance metric ("euclidean" or "manhattan")
func WithKNNMetric(metric string) KNeighborsOption {
	return func(knn *KNeighborsClassifier) {
		knn.metric = metric
	}
}

// WithKNNJobs caps the number of workers used during prediction
func WithKNNJobs(n int) KNeighborsOption {
	return func(knn *KNeighborsClassifier) {
		knn.nJobs = n
	}
}

// Fit memorizes the training data and validates the configuration.
func (knn *KNeighborsClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return kiterrors.NewModelError("KNeighborsClassifier.Fit", "empty data", kiterrors.ErrEmptyData)
	}
	if nSamples != yRows {
		return kiterrors.NewDimensionError("KNeighborsClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return kiterrors.NewValueError("KNeighborsClassifier.Fit",
			fmt.Sprintf("y must be a column vector, got shape (%d, %d)", yRows, yCols))
	}
	if knn.nNeighbors < 1 {
		return kiterrors.NewValidationError("n_neighbors", "must be at least 1", knn.nNeighbors)
	}
	if knn.nNeighbors > nSamples {
		return kiterrors.NewValidationError("n_neighbors",
			fmt.Sprintf("must not exceed the %d training samples", nSamples), knn.nNeighbors)
	}
	if knn.weights != WeightsUniform && knn.weights != WeightsDistance {
		return kiterrors.NewValidationError("weights", "must be uniform or distance", knn.weights)
	}
	if knn.metric != MetricEuclidean && knn.metric != MetricManhattan {
		return kiterrors.NewValidationError("metric", "must be euclidean or manhattan", knn.metric)
	}

	knn.trainX = mat.DenseCopyOf(X)
	knn.trainY = make([]int, nSamples)
	classMap := make(map[int]bool)
	for i := 0; i < nSamples; i++ {
		label := int(y.At(i, 0))
		knn.trainY[i] = label
		classMap[label] = true
	}

	knn.classes_ = make([]int, 0, len(classMap))
	for class := range classMap {
		knn.classes_ = append(knn.classes_, class)
	}
	sort.Ints(knn.classes_)

	knn.state.SetDimensions(nFeatures, nSamples)
	knn.state.SetFitted()
	return nil
}

// Predict returns the majority-vote class for each row of X.
func (knn *KNeighborsClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := knn.PredictProba(X)
	if err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		best := 0
		bestProb := probas.At(i, 0)
		for c := 1; c < len(knn.classes_); c++ {
			if p := probas.At(i, c); p > bestProb {
				bestProb = p
				best = c
			}
		}
		predictions.Set(i, 0, float64(knn.classes_[best]))
	}
	return predictions, nil
}

// PredictProba returns the vote share per class, one column per class in
// Classes() order. With distance weights an exact training match takes the
// whole vote.
func (knn *KNeighborsClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := knn.state.RequireFitted("KNeighborsClassifier", "PredictProba"); err != nil {
		return nil, err
	}

	nSamples, nFeatures := X.Dims()
	if want, _ := knn.state.GetDimensions(); nFeatures != want {
		return nil, kiterrors.NewDimensionError("KNeighborsClassifier.PredictProba", want, nFeatures, 1)
	}

	classIndex := make(map[int]int, len(knn.classes_))
	for i, c := range knn.classes_ {
		classIndex[c] = i
	}

	probas := mat.NewDense(nSamples, len(knn.classes_), nil)

	parallel.ParallelizeWithWorkers(nSamples, knn.nJobs, func(start, end int) {
		for i := start; i < end; i++ {
			query := mat.Row(nil, i, X)
			dists, idx := knn.nearest(query, knn.nNeighbors)

			votes := make([]float64, len(knn.classes_))
			total := 0.0

			if knn.weights == WeightsDistance {
				// Exact matches dominate the vote
				exact := false
				for n := range idx {
					if dists[n] < 1e-12 {
						votes[classIndex[knn.trainY[idx[n]]]]++
						total++
						exact = true
					}
				}
				if !exact {
					for n := range idx {
						w := 1.0 / dists[n]
						votes[classIndex[knn.trainY[idx[n]]]] += w
						total += w
					}
				}
			} else {
				for n := range idx {
					votes[classIndex[knn.trainY[idx[n]]]]++
					total++
				}
			}

			for c := range votes {
				probas.Set(i, c, votes[c]/total)
			}
		}
	})

	return probas, nil
}

// nearest returns the distances and training indices of the k nearest
// neighbors of query, ties broken by training index.
func (knn *KNeighborsClassifier) nearest(query []float64, k int) ([]float64, []int) {
	nTrain, _ := knn.trainX.Dims()

	type neighbor struct {
		dist float64
		idx  int
	}
	all := make([]neighbor, nTrain)
	for j := 0; j < nTrain; j++ {
		all[j] = neighbor{dist: knn.distance(query, knn.trainX.RawRowView(j)), idx: j}
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].dist != all[b].dist {
			return all[a].dist < all[b].dist
		}
		return all[a].idx < all[b].idx
	})

	dists := make([]float64, k)
	idx := make([]int, k)
	for n := 0; n < k; n++ {
		dists[n] = all[n].dist
		idx[n] = all[n].idx
	}
	return dists, idx
}

func (knn *KNeighborsClassifier) distance(a, b []float64) float64 {
	switch knn.metric {
	case MetricManhattan:
		sum := 0.0
		for j := range a {
			sum += math.Abs(a[j] - b[j])
		}
		return sum
	default:
		sum := 0.0
		for j := range a {
			d := a[j] - b[j]
			sum += d * d
		}
		return math.Sqrt(sum)
	}
}

// KNeighbors returns the distances and indices of the k nearest training
// samples for each row of X. With k <= 0 the configured n_neighbors is used.
func (knn *KNeighborsClassifier) KNeighbors(X mat.Matrix, k int) ([][]float64, [][]int, error) {
	if err := knn.state.RequireFitted("KNeighborsClassifier", "KNeighbors"); err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		k = knn.nNeighbors
	}
	nTrain, _ := knn.trainX.Dims()
	if k > nTrain {
		return nil, nil, kiterrors.NewValidationError("k",
			fmt.Sprintf("must not exceed the %d training samples", nTrain), k)
	}

	nSamples, nFeatures := X.Dims()
	if want, _ := knn.state.GetDimensions(); nFeatures != want {
		return nil, nil, kiterrors.NewDimensionError("KNeighborsClassifier.KNeighbors", want, nFeatures, 1)
	}

	dists := make([][]float64, nSamples)
	indices := make([][]int, nSamples)
	for i := 0; i < nSamples; i++ {
		query := mat.Row(nil, i, X)
		dists[i], indices[i] = knn.nearest(query, k)
	}
	return dists, indices, nil
}

// Score returns the mean accuracy on the given test data and labels.
func (knn *KNeighborsClassifier) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := knn.Predict(X)
	if err != nil {
		return 0, err
	}

	nSamples, _ := X.Dims()
	yRows, _ := y.Dims()
	if yRows != nSamples {
		return 0, kiterrors.NewDimensionError("KNeighborsClassifier.Score", nSamples, yRows, 0)
	}

	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples), nil
}

// IsFitted returns whether the model has been fitted.
func (knn *KNeighborsClassifier) IsFitted() bool {
	return knn.state.IsFitted()
}

// Classes returns the class labels in prediction order.
func (knn *KNeighborsClassifier) Classes() []int {
	return append([]int(nil), knn.classes_...)
}

// GetParams returns the model hyperparameters
func (knn *KNeighborsClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_neighbors": knn.nNeighbors,
		"weights":     knn.weights,
		"metric":      knn.metric,
		"n_jobs":      knn.nJobs,
	}
}

// SetParams sets the model hyperparameters
func (knn *KNeighborsClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "n_neighbors":
			knn.nNeighbors = value.(int)
		case "weights":
			knn.weights = value.(string)
		case "metric":
			knn.metric = value.(string)
		case "n_jobs":
			knn.nJobs = value.(int)
		default:
			return kiterrors.NewValueError("KNeighborsClassifier.SetParams",
				"unknown parameter: "+key)
		}
	}
	return nil
}

// knnGobState mirrors the unexported fields for gob serialization.
type knnGobState struct {
	NNeighbors int
	Weights    string
	Metric     string
	NJobs      int

	TrainX    []float64
	TrainRows int
	TrainCols int
	TrainY    []int
	Classes   []int
	Fitted    bool
}

// GobEncode serializes the classifier including the memorized training set.
func (knn *KNeighborsClassifier) GobEncode() ([]byte, error) {
	state := knnGobState{
		NNeighbors: knn.nNeighbors,
		Weights:    knn.weights,
		Metric:     knn.metric,
		NJobs:      knn.nJobs,
		TrainY:     knn.trainY,
		Classes:    knn.classes_,
		Fitted:     knn.state.IsFitted(),
	}
	if knn.trainX != nil {
		r, c := knn.trainX.Dims()
		state.TrainRows = r
		state.TrainCols = c
		state.TrainX = append([]float64(nil), knn.trainX.RawMatrix().Data...)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, kiterrors.Wrap(err, "KNeighborsClassifier.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a classifier serialized by GobEncode.
func (knn *KNeighborsClassifier) GobDecode(data []byte) error {
	var state knnGobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return kiterrors.Wrap(err, "KNeighborsClassifier.GobDecode")
	}

	knn.nNeighbors = state.NNeighbors
	knn.weights = state.Weights
	knn.metric = state.Metric
	knn.nJobs = state.NJobs
	knn.trainY = state.TrainY
	knn.classes_ = state.Classes
	if state.TrainRows > 0 {
		knn.trainX = mat.NewDense(state.TrainRows, state.TrainCols, state.TrainX)
	}

	knn.state = model.NewStateManager()
	knn.state.SetDimensions(state.TrainCols, state.TrainRows)
	if state.Fitted {
		knn.state.SetFitted()
	}
	return nil
}

// String returns the string representation of the model
func (knn *KNeighborsClassifier) String() string {
	return fmt.Sprintf("KNeighborsClassifier(n_neighbors=%d, weights=%s, metric=%s, fitted=%t)",
		knn.nNeighbors, knn.weights, knn.metric, knn.state.IsFitted())
}
