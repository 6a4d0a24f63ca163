package model_selection

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Estimator is the contract cross-validation and hyperparameter search
// drive: fit on the training rows of a fold, predict on the held-out rows,
// accept candidate parameters.
type Estimator interface {
	Fit(X, y mat.Matrix) error
	Predict(X mat.Matrix) (mat.Matrix, error)
	SetParams(params map[string]interface{}) error
}

// probaPredictor is satisfied by classifiers that expose probabilities.
type probaPredictor interface {
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// CVResult stores cross-validation results
type CVResult struct {
	TrainScores []float64
	TestScores  []float64
	FitTimes    []float64 // seconds per fold
	ScoreTimes  []float64
	Models      []Estimator
	BestFold    int
	BestScore   float64
}

// GetMeanScore returns mean test score
func (cv *CVResult) GetMeanScore() float64 {
	if len(cv.TestScores) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, score := range cv.TestScores {
		sum += score
	}
	return sum / float64(len(cv.TestScores))
}

// GetStdScore returns standard deviation of test scores
func (cv *CVResult) GetStdScore() float64 {
	if len(cv.TestScores) <= 1 {
		return 0.0
	}

	mean := cv.GetMeanScore()
	sumSq := 0.0
	for _, score := range cv.TestScores {
		diff := score - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(cv.TestScores)-1))
}

// CrossValidate fits a fresh estimator from newEstimator on every fold and
// scores both halves with the scorer. Folds run concurrently; the first
// fold error aborts the whole run.
func CrossValidate(newEstimator func() Estimator, X, y mat.Matrix,
	splitter KFoldSplitter, scorer Scorer) (*CVResult, error) {

	if newEstimator == nil {
		return nil, kiterrors.NewValueError("CrossValidate", "newEstimator must not be nil")
	}
	if scorer.Metric == nil {
		return nil, kiterrors.NewValueError("CrossValidate", "scorer has no metric function")
	}
	if splitter == nil {
		splitter = NewKFold(5, false, 0)
	}

	folds := splitter.Split(X, y)
	nFolds := len(folds)
	if nFolds == 0 {
		return nil, kiterrors.NewValueError("CrossValidate", "splitter produced no folds")
	}

	result := &CVResult{
		TrainScores: make([]float64, nFolds),
		TestScores:  make([]float64, nFolds),
		FitTimes:    make([]float64, nFolds),
		ScoreTimes:  make([]float64, nFolds),
		Models:      make([]Estimator, nFolds),
	}

	var wg sync.WaitGroup
	errs := make([]error, nFolds)

	for foldIdx := 0; foldIdx < nFolds; foldIdx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			fold := folds[idx]
			trainX, trainY := subsetRows(X, y, fold.TrainIndices)
			testX, testY := subsetRows(X, y, fold.TestIndices)

			est := newEstimator()

			fitStart := time.Now()
			if err := est.Fit(trainX, trainY); err != nil {
				errs[idx] = kiterrors.Wrapf(err, "fold %d training failed", idx)
				return
			}
			result.FitTimes[idx] = time.Since(fitStart).Seconds()
			result.Models[idx] = est

			scoreStart := time.Now()
			trainScore, err := applyScorer(scorer, est, trainX, trainY)
			if err != nil {
				errs[idx] = kiterrors.Wrapf(err, "fold %d train scoring failed", idx)
				return
			}
			result.TrainScores[idx] = trainScore

			testScore, err := applyScorer(scorer, est, testX, testY)
			if err != nil {
				errs[idx] = kiterrors.Wrapf(err, "fold %d test scoring failed", idx)
				return
			}
			result.TestScores[idx] = testScore
			result.ScoreTimes[idx] = time.Since(scoreStart).Seconds()
		}(foldIdx)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	result.BestScore = result.TestScores[0]
	result.BestFold = 0
	for i := 1; i < nFolds; i++ {
		if scorer.Better(result.TestScores[i], result.BestScore) {
			result.BestScore = result.TestScores[i]
			result.BestFold = i
		}
	}

	return result, nil
}

// applyScorer predicts with the fitted estimator and runs the metric,
// passing probabilities through when the estimator provides them.
func applyScorer(scorer Scorer, est Estimator, X, y mat.Matrix) (float64, error) {
	pred, err := est.Predict(X)
	if err != nil {
		return 0, err
	}

	var proba mat.Matrix
	if clf, ok := est.(probaPredictor); ok {
		proba, err = clf.PredictProba(X)
		if err != nil {
			return 0, err
		}
	}

	return scorer.Metric(y, proba, pred)
}
