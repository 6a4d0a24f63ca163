// Package model provides the shared contracts and state management that
// every churnkit estimator and transformer builds on.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter is the interface for models that learn from data.
type Fitter interface {
	// Fit trains the model on X (n_samples x n_features) and y (n_samples x 1).
	Fit(X, y mat.Matrix) error
}

// Predictor is the interface for models that produce predictions.
type Predictor interface {
	// Predict returns predictions for X as an (n_samples x 1) matrix.
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Scorer is the interface for models that can compute a score.
// Classifiers report accuracy; regressors report R^2.
type Scorer interface {
	Score(X, y mat.Matrix) (float64, error)
}

// Estimator is the minimal contract shared by all fitted models.
type Estimator interface {
	Fitter
	IsFitted() bool
}

// Classifier combines the interfaces of classification models.
type Classifier interface {
	Estimator
	Predictor
	Scorer

	// PredictProba returns probability estimates for each class,
	// shaped (n_samples x n_classes) with rows summing to 1.
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the unique classes seen during fitting, sorted ascending.
	Classes() []int
}

// Regressor combines the interfaces of regression models.
type Regressor interface {
	Estimator
	Predictor
	Scorer
}

// Transformer is the interface for data transformations that learn
// parameters from data (scalers, imputers, encoders).
type Transformer interface {
	// Fit learns the parameters needed for the transformation.
	Fit(X mat.Matrix) error

	// Transform applies the transformation without mutating its input.
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform runs Fit and Transform in one step.
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// InverseTransformer is implemented by transformers whose mapping can be reversed.
type InverseTransformer interface {
	Transformer
	InverseTransform(X mat.Matrix) (mat.Matrix, error)
}

// ParameterGetter is the interface for models that expose their hyperparameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters keyed by snake_case name.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow hyperparameter
// modification. Hyperparameter search drives candidates through this.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Persistable is the interface for models that can be saved and loaded.
type Persistable interface {
	Save(path string) error
	Load(path string) error
}

// WeightExporter is implemented by linear models whose coefficients can be
// exported for inspection.
type WeightExporter interface {
	ExportWeights() (*ModelWeights, error)
}
