package model_selection

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/metrics"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// MetricFunc scores predictions against true labels. proba is the
// (n_samples x n_classes) probability matrix when the estimator exposes one,
// nil otherwise; pred is the (n_samples x 1) hard prediction.
type MetricFunc func(yTrue, proba, pred mat.Matrix) (float64, error)

// Scorer couples a metric with its name and optimization direction.
type Scorer struct {
	Name            string
	GreaterIsBetter bool
	Metric          MetricFunc
}

// Better reports whether candidate improves on incumbent under this scorer.
func (s Scorer) Better(candidate, incumbent float64) bool {
	if s.GreaterIsBetter {
		return candidate > incumbent
	}
	return candidate < incumbent
}

// AccuracyScorer scores by the fraction of correct hard predictions.
func AccuracyScorer() Scorer {
	return Scorer{
		Name:            "accuracy",
		GreaterIsBetter: true,
		Metric: func(yTrue, _, pred mat.Matrix) (float64, error) {
			return metrics.Accuracy(columnVec(yTrue, 0), columnVec(pred, 0))
		},
	}
}

// F1Scorer scores by the harmonic mean of precision and recall on the
// positive class.
func F1Scorer() Scorer {
	return Scorer{
		Name:            "f1",
		GreaterIsBetter: true,
		Metric: func(yTrue, _, pred mat.Matrix) (float64, error) {
			return metrics.F1Score(columnVec(yTrue, 0), columnVec(pred, 0))
		},
	}
}

// LogLossScorer scores by binary cross-entropy over the positive-class
// probability. Lower is better.
func LogLossScorer() Scorer {
	return Scorer{
		Name:            "log_loss",
		GreaterIsBetter: false,
		Metric: func(yTrue, proba, _ mat.Matrix) (float64, error) {
			p, err := positiveProba(proba, "log_loss")
			if err != nil {
				return 0, err
			}
			return metrics.BinaryLogLoss(columnVec(yTrue, 0), p)
		},
	}
}

// ROCAUCScorer scores by the area under the ROC curve of the positive-class
// probability.
func ROCAUCScorer() Scorer {
	return Scorer{
		Name:            "roc_auc",
		GreaterIsBetter: true,
		Metric: func(yTrue, proba, _ mat.Matrix) (float64, error) {
			p, err := positiveProba(proba, "roc_auc")
			if err != nil {
				return 0, err
			}
			return metrics.AUC(columnVec(yTrue, 0), p)
		},
	}
}

// ScorerByName resolves a scorer from its snake_case name.
func ScorerByName(name string) (Scorer, error) {
	switch name {
	case "accuracy":
		return AccuracyScorer(), nil
	case "f1":
		return F1Scorer(), nil
	case "log_loss":
		return LogLossScorer(), nil
	case "roc_auc":
		return ROCAUCScorer(), nil
	default:
		return Scorer{}, kiterrors.NewValueError("ScorerByName",
			"unknown scorer: "+name+" (want accuracy, f1, log_loss or roc_auc)")
	}
}

// positiveProba extracts the positive-class probability column. Binary
// classifiers put the positive class last.
func positiveProba(proba mat.Matrix, scorer string) (*mat.VecDense, error) {
	if proba == nil {
		return nil, kiterrors.NewValueError("Scorer."+scorer,
			"estimator does not expose class probabilities")
	}
	_, cols := proba.Dims()
	return columnVec(proba, cols-1), nil
}

// columnVec copies one column of a matrix into a vector.
func columnVec(m mat.Matrix, col int) *mat.VecDense {
	rows, _ := m.Dims()
	v := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		v.SetVec(i, m.At(i, col))
	}
	return v
}
