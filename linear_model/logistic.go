// Package linear_model provides linear estimators for regression and
// classification, compatible with scikit-learn's linear_model module.
package linear_model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l2", "l1", "elasticnet", "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	classWeight  string  // Class weight: "balanced", "none"
	randomState  int64   // Random seed
	maxIter      int     // Maximum iterations
	l1Ratio      float64 // L1 ratio for elastic net
	tol          float64 // Tolerance for stopping

	// Model parameters
	coef_      [][]float64 // Coefficients (1 x n_features for binary, n_classes x n_features otherwise)
	intercept_ []float64   // Intercept terms
	classes_   []int       // Unique class labels
	nClasses_  int         // Number of classes
	nFeatures_ int         // Number of features
	nIter_     []int       // Actual iterations per class

	// Internal state
	rand *rand.Rand
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		classWeight:  "none",
		randomState:  -1,
		maxIter:      100,
		l1Ratio:      0.5,
		tol:          1e-4,
	}

	for _, opt := range opts {
		opt(lr)
	}

	if lr.randomState >= 0 {
		lr.rand = rand.New(rand.NewSource(lr.randomState))
	} else {
		lr.rand = rand.New(rand.NewSource(rand.Int63()))
	}

	return lr
}

// WithLRPenalty sets the regularization type ("none", "l1", "l2", "elasticnet")
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRClassWeight sets the class weighting mode ("none" or "balanced")
func WithLRClassWeight(mode string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.classWeight = mode
	}
}

// WithLRL1Ratio sets the elastic net mixing parameter
func WithLRL1Ratio(ratio float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.l1Ratio = ratio
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
		if seed >= 0 {
			lr.rand = rand.New(rand.NewSource(seed))
		}
	}
}

// Fit trains the logistic regression model with proximal gradient descent.
// L2 (and the L2 share of elastic net) enters the gradient; L1 is applied
// as soft-thresholding after each step.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return kiterrors.NewModelError("LogisticRegression.Fit", "empty data", kiterrors.ErrEmptyData)
	}
	if nSamples != yRows {
		return kiterrors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return kiterrors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("y must be a column vector, got shape (%d, %d)", yRows, yCols))
	}
	switch lr.penalty {
	case "none", "l1", "l2", "elasticnet":
	default:
		return kiterrors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("unknown penalty %q", lr.penalty))
	}
	if lr.classWeight != "none" && lr.classWeight != "balanced" {
		return kiterrors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("unknown class_weight %q", lr.classWeight))
	}

	lr.extractClasses(y)
	if lr.nClasses_ < 2 {
		return kiterrors.NewValueError("LogisticRegression.Fit",
			"y contains a single class")
	}
	lr.nFeatures_ = nFeatures
	lr.initializeWeights(nFeatures)

	sampleWeight := lr.computeSampleWeights(y)

	if lr.nClasses_ == 2 {
		yBinary := binaryTargets(y, lr.classes_[1])
		lr.fitBinaryForClass(X, yBinary, sampleWeight, 0)
	} else {
		// One-vs-rest
		for classIdx, class := range lr.classes_ {
			yBinary := binaryTargets(y, class)
			lr.fitBinaryForClass(X, yBinary, sampleWeight, classIdx)
		}
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	return nil
}

// extractClasses identifies unique class labels
func (lr *LogisticRegression) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	classMap := make(map[int]bool)

	for i := 0; i < rows; i++ {
		classMap[int(y.At(i, 0))] = true
	}

	lr.classes_ = make([]int, 0, len(classMap))
	for class := range classMap {
		lr.classes_ = append(lr.classes_, class)
	}
	sort.Ints(lr.classes_)
	lr.nClasses_ = len(lr.classes_)
}

// initializeWeights initializes model weights with small random values
func (lr *LogisticRegression) initializeWeights(nFeatures int) {
	nSets := 1
	if lr.nClasses_ > 2 {
		nSets = lr.nClasses_
	}

	lr.coef_ = make([][]float64, nSets)
	for i := range lr.coef_ {
		lr.coef_[i] = make([]float64, nFeatures)
		for j := range lr.coef_[i] {
			lr.coef_[i][j] = lr.rand.NormFloat64() * 0.01
		}
	}
	lr.intercept_ = make([]float64, nSets)
	lr.nIter_ = make([]int, nSets)
}

// computeSampleWeights returns per-sample weights. With "balanced", a
// sample of class c weighs n_samples / (n_classes * count_c), so rare
// churners pull as hard as the majority class.
func (lr *LogisticRegression) computeSampleWeights(y mat.Matrix) []float64 {
	n, _ := y.Dims()
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0
	}
	if lr.classWeight != "balanced" {
		return weights
	}

	counts := make(map[int]int, lr.nClasses_)
	for i := 0; i < n; i++ {
		counts[int(y.At(i, 0))]++
	}
	for i := 0; i < n; i++ {
		class := int(y.At(i, 0))
		weights[i] = float64(n) / (float64(lr.nClasses_) * float64(counts[class]))
	}
	return weights
}

// binaryTargets recodes y against a positive class.
func binaryTargets(y mat.Matrix, positive int) []float64 {
	n, _ := y.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if int(y.At(i, 0)) == positive {
			out[i] = 1.0
		}
	}
	return out
}

// fitBinaryForClass runs proximal gradient descent for one weight set.
func (lr *LogisticRegression) fitBinaryForClass(X mat.Matrix, yBinary, sampleWeight []float64, classIdx int) {
	nSamples, nFeatures := X.Dims()
	weights := lr.coef_[classIdx]
	intercept := &lr.intercept_[classIdx]

	lambdaL1, lambdaL2 := lr.regularization()
	baseLearningRate := 1.0

	converged := false
	for iter := 0; iter < lr.maxIter; iter++ {
		// Compute gradients from the weighted residuals
		gradWeights := make([]float64, nFeatures)
		gradIntercept := 0.0

		for i := 0; i < nSamples; i++ {
			z := *intercept
			for j := 0; j < nFeatures; j++ {
				z += X.At(i, j) * weights[j]
			}
			residual := (sigmoid(z) - yBinary[i]) * sampleWeight[i]
			gradIntercept += residual
			for j := 0; j < nFeatures; j++ {
				gradWeights[j] += residual * X.At(i, j)
			}
		}

		for j := range gradWeights {
			gradWeights[j] /= float64(nSamples)
		}
		gradIntercept /= float64(nSamples)

		// L2 part of the penalty enters the gradient
		if lambdaL2 > 0 {
			for j := range weights {
				gradWeights[j] += lambdaL2 * weights[j]
			}
		}

		// Adaptive learning rate
		learningRate := baseLearningRate / (1.0 + 0.1*float64(iter))

		for j := range weights {
			weights[j] -= learningRate * gradWeights[j]
		}
		if lr.fitIntercept {
			*intercept -= learningRate * gradIntercept
		}

		// Proximal step for the L1 part: soft-thresholding
		if lambdaL1 > 0 {
			threshold := learningRate * lambdaL1
			for j := range weights {
				weights[j] = softThreshold(weights[j], threshold)
			}
		}

		lr.nIter_[classIdx] = iter + 1

		maxGrad := math.Abs(gradIntercept)
		for _, g := range gradWeights {
			if math.Abs(g) > maxGrad {
				maxGrad = math.Abs(g)
			}
		}
		if maxGrad < lr.tol {
			converged = true
			break
		}
	}

	if !converged {
		kiterrors.Warn(kiterrors.NewConvergenceWarning("LogisticRegression", lr.maxIter,
			"gradient norm still above tol; consider increasing max_iter or scaling the features"))
	}
}

// regularization splits the penalty into its L1 and L2 strengths.
func (lr *LogisticRegression) regularization() (lambdaL1, lambdaL2 float64) {
	switch lr.penalty {
	case "l1":
		return 1.0 / lr.C, 0
	case "l2":
		return 0, 1.0 / lr.C
	case "elasticnet":
		return lr.l1Ratio / lr.C, (1.0 - lr.l1Ratio) / lr.C
	default:
		return 0, 0
	}
}

// softThreshold is the proximal operator of the L1 norm.
func softThreshold(w, threshold float64) float64 {
	if w > threshold {
		return w - threshold
	}
	if w < -threshold {
		return w + threshold
	}
	return 0
}

// Predict returns the predicted class label for each row of X.
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "Predict"); err != nil {
		return nil, err
	}
	if err := lr.checkWidth("Predict", X); err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)

	if lr.nClasses_ == 2 {
		for i := 0; i < nSamples; i++ {
			if sigmoid(lr.decision(X, i, 0)) >= 0.5 {
				predictions.Set(i, 0, float64(lr.classes_[1]))
			} else {
				predictions.Set(i, 0, float64(lr.classes_[0]))
			}
		}
	} else {
		for i := 0; i < nSamples; i++ {
			maxScore := math.Inf(-1)
			bestClass := 0
			for classIdx := 0; classIdx < lr.nClasses_; classIdx++ {
				if score := lr.decision(X, i, classIdx); score > maxScore {
					maxScore = score
					bestClass = classIdx
				}
			}
			predictions.Set(i, 0, float64(lr.classes_[bestClass]))
		}
	}

	return predictions, nil
}

// PredictProba returns probability estimates, one column per class in
// Classes() order.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "PredictProba"); err != nil {
		return nil, err
	}
	if err := lr.checkWidth("PredictProba", X); err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	probas := mat.NewDense(nSamples, lr.nClasses_, nil)

	if lr.nClasses_ == 2 {
		for i := 0; i < nSamples; i++ {
			prob1 := sigmoid(lr.decision(X, i, 0))
			probas.Set(i, 0, 1.0-prob1)
			probas.Set(i, 1, prob1)
		}
	} else {
		// Softmax over the per-class decision scores
		for i := 0; i < nSamples; i++ {
			scores := make([]float64, lr.nClasses_)
			maxScore := math.Inf(-1)
			for classIdx := 0; classIdx < lr.nClasses_; classIdx++ {
				scores[classIdx] = lr.decision(X, i, classIdx)
				if scores[classIdx] > maxScore {
					maxScore = scores[classIdx]
				}
			}
			sum := 0.0
			for classIdx := range scores {
				scores[classIdx] = math.Exp(scores[classIdx] - maxScore)
				sum += scores[classIdx]
			}
			for classIdx := range scores {
				probas.Set(i, classIdx, scores[classIdx]/sum)
			}
		}
	}

	return probas, nil
}

// decision computes the linear score of sample i for one weight set.
func (lr *LogisticRegression) decision(X mat.Matrix, i, classIdx int) float64 {
	z := lr.intercept_[classIdx]
	for j := 0; j < lr.nFeatures_; j++ {
		z += X.At(i, j) * lr.coef_[classIdx][j]
	}
	return z
}

func (lr *LogisticRegression) checkWidth(method string, X mat.Matrix) error {
	_, c := X.Dims()
	if c != lr.nFeatures_ {
		return kiterrors.NewDimensionError("LogisticRegression."+method, lr.nFeatures_, c, 1)
	}
	return nil
}

// Score returns the mean accuracy on the given test data and labels.
func (lr *LogisticRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}

	nSamples, _ := X.Dims()
	yRows, _ := y.Dims()
	if yRows != nSamples {
		return 0, kiterrors.NewDimensionError("LogisticRegression.Score", nSamples, yRows, 0)
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
func (lr *LogisticRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// Classes returns the class labels in prediction order.
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.classes_...)
}

// Coef returns a copy of the fitted coefficients.
func (lr *LogisticRegression) Coef() [][]float64 {
	out := make([][]float64, len(lr.coef_))
	for i, row := range lr.coef_ {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Intercept returns a copy of the fitted intercepts.
func (lr *LogisticRegression) Intercept() []float64 {
	return append([]float64(nil), lr.intercept_...)
}

// NIter returns the iterations run per weight set.
func (lr *LogisticRegression) NIter() []int {
	return append([]int(nil), lr.nIter_...)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"class_weight":  lr.classWeight,
		"random_state":  lr.randomState,
		"max_iter":      lr.maxIter,
		"l1_ratio":      lr.l1Ratio,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "penalty":
			lr.penalty = value.(string)
		case "C":
			lr.C = value.(float64)
		case "fit_intercept":
			lr.fitIntercept = value.(bool)
		case "class_weight":
			lr.classWeight = value.(string)
		case "random_state":
			lr.randomState = value.(int64)
			if lr.randomState >= 0 {
				lr.rand = rand.New(rand.NewSource(lr.randomState))
			}
		case "max_iter":
			lr.maxIter = value.(int)
		case "l1_ratio":
			lr.l1Ratio = value.(float64)
		case "tol":
			lr.tol = value.(float64)
		default:
			return kiterrors.NewValueError("LogisticRegression.SetParams",
				"unknown parameter: "+key)
		}
	}
	return nil
}

// ExportWeights exposes the fitted parameters for inspection endpoints.
func (lr *LogisticRegression) ExportWeights() (*model.ModelWeights, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "ExportWeights"); err != nil {
		return nil, err
	}

	flat := make([]float64, 0, len(lr.coef_)*lr.nFeatures_)
	for _, row := range lr.coef_ {
		flat = append(flat, row...)
	}

	w := model.NewModelWeights("LogisticRegression")
	w.Coefficients = flat
	if len(lr.intercept_) > 0 {
		w.Intercept = lr.intercept_[0]
	}
	w.Hyperparameters = lr.GetParams()
	w.Metadata["n_classes"] = lr.nClasses_
	w.Metadata["n_features"] = lr.nFeatures_
	w.IsFitted = true
	return w, nil
}

// logisticGobState mirrors the unexported fields for gob serialization.
type logisticGobState struct {
	Penalty      string
	C            float64
	FitIntercept bool
	ClassWeight  string
	RandomState  int64
	MaxIter      int
	L1Ratio      float64
	Tol          float64

	Coef      [][]float64
	Intercept []float64
	Classes   []int
	NFeatures int
	NIter     []int
	Fitted    bool
}

// GobEncode serializes the model including learned parameters.
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	state := logisticGobState{
		Penalty:      lr.penalty,
		C:            lr.C,
		FitIntercept: lr.fitIntercept,
		ClassWeight:  lr.classWeight,
		RandomState:  lr.randomState,
		MaxIter:      lr.maxIter,
		L1Ratio:      lr.l1Ratio,
		Tol:          lr.tol,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Classes:      lr.classes_,
		NFeatures:    lr.nFeatures_,
		NIter:        lr.nIter_,
		Fitted:       lr.state.IsFitted(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, kiterrors.Wrap(err, "LogisticRegression.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a model serialized by GobEncode.
func (lr *LogisticRegression) GobDecode(data []byte) error {
	var state logisticGobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return kiterrors.Wrap(err, "LogisticRegression.GobDecode")
	}

	lr.penalty = state.Penalty
	lr.C = state.C
	lr.fitIntercept = state.FitIntercept
	lr.classWeight = state.ClassWeight
	lr.randomState = state.RandomState
	lr.maxIter = state.MaxIter
	lr.l1Ratio = state.L1Ratio
	lr.tol = state.Tol
	lr.coef_ = state.Coef
	lr.intercept_ = state.Intercept
	lr.classes_ = state.Classes
	lr.nClasses_ = len(state.Classes)
	lr.nFeatures_ = state.NFeatures
	lr.nIter_ = state.NIter

	lr.state = model.NewStateManager()
	if state.Fitted {
		lr.state.SetFitted()
	}
	if lr.randomState >= 0 {
		lr.rand = rand.New(rand.NewSource(lr.randomState))
	} else {
		lr.rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return nil
}

// sigmoid computes the logistic function
func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
