// Package log defines standard attribute keys for machine learning operations.
//
// This file contains predefined attribute keys that provide consistency across
// all logging operations in churnkit. Using these standard keys enables better
// log analysis, monitoring, and debugging of training and serving workflows.
//
// The keys follow a hierarchical naming convention (e.g., "model.name",
// "data.samples") to enable structured log analysis and filtering.

package log

// Model and Operation Context
// These attributes identify the model type, instance, and operation being performed.
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "LogisticRegression", "RandomForestClassifier", "StandardScaler"
	ModelNameKey = "model.name"

	// EstimatorIDKey provides a unique identifier for a specific model instance.
	// Examples: "logreg-001", UUID strings
	EstimatorIDKey = "estimator.id"

	// ArtifactIDKey identifies a serialized model artifact.
	ArtifactIDKey = "artifact.id"

	// OperationKey specifies the machine learning operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is performing the operation.
	// Examples: "linear_model", "preprocessing", "server"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	// Examples: "training", "inference", "validation", "preprocessing"
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
// These attributes describe the structure and properties of data being processed.
const (
	// DatasetKey names the dataset being processed.
	// Examples: "telco-churn", "creditcard-fraud"
	DatasetKey = "data.dataset"

	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// TargetsKey indicates the number of target variables for supervised learning.
	TargetsKey = "data.targets"

	// MissingKey indicates the number of missing cells encountered.
	MissingKey = "data.missing"

	// PositiveRateKey records the fraction of positive labels in the data.
	PositiveRateKey = "data.positive_rate"
)

// Performance Metrics
// These attributes capture timing, accuracy, and resource usage information.
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records model accuracy for evaluation operations.
	AccuracyKey = "metrics.accuracy"

	// LossKey records loss value during training or evaluation.
	LossKey = "metrics.loss"

	// AUCKey records area under the ROC curve.
	AUCKey = "metrics.roc_auc"

	// IterationKey records the current iteration number during iterative processes.
	IterationKey = "training.iteration"

	// FoldKey records the cross-validation fold index.
	FoldKey = "cv.fold"
)

// Prediction and Serving Context
// These attributes describe prediction operations and their results.
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ConfidenceKey records prediction confidence or probability.
	ConfidenceKey = "preds.confidence"

	// ThresholdKey records decision thresholds used for classification.
	ThresholdKey = "preds.threshold"

	// RequestIDKey carries the HTTP request correlation id.
	RequestIDKey = "request.id"

	// SourceKey identifies the origin of a prediction request ("rest", "form", "cli").
	SourceKey = "request.source"
)

// Error and Warning Context
// These attributes provide additional context for error and warning messages.
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	// Examples: "DIMENSION_MISMATCH", "NOT_FITTED", "CONVERGENCE_FAILURE"
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	// Examples: "ValidationError", "ConvergenceError", "DataError"
	ErrorTypeKey = "error.type"

	// SuggestionKey provides helpful suggestions for resolving issues.
	// Examples: "Check input data shape", "Increase max_iterations"
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
// These attributes capture model configuration and hyperparameters.
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// AlgorithmKey names the training algorithm selected for a run.
	AlgorithmKey = "model.algorithm"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute value constants for common operations.
// Using these constants ensures consistency across the codebase.
const (
	// Standard ML operations
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	// Standard ML phases
	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"

	// Standard error codes
	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
	ErrorSingularMatrix    = "SINGULAR_MATRIX"
)
