package linear_model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// ElasticNet is a linear regression model with combined L1 and L2 priors,
// trained by cyclic coordinate descent. Compatible with scikit-learn's
// ElasticNet; l1_ratio=1 gives the Lasso, l1_ratio=0 pure ridge.
//
// The objective is
//
//	1/(2n) * ||y - Xw - b||^2 + alpha*l1_ratio*||w||_1 + alpha*(1-l1_ratio)/2*||w||^2
type ElasticNet struct {
	state *model.StateManager

	// Hyperparameters
	alpha        float64 // Overall regularization strength
	l1Ratio      float64 // Mix between L1 (1.0) and L2 (0.0)
	fitIntercept bool
	maxIter      int
	tol          float64

	// Learned parameters
	coef_      []float64
	intercept_ float64
	nFeatures_ int
	nIter_     int
}

// ElasticNetOption is a functional option for ElasticNet
type ElasticNetOption func(*ElasticNet)

// NewElasticNet creates a new ElasticNet regressor
func NewElasticNet(opts ...ElasticNetOption) *ElasticNet {
	en := &ElasticNet{
		state:        model.NewStateManager(),
		alpha:        1.0,
		l1Ratio:      0.5,
		fitIntercept: true,
		maxIter:      1000,
		tol:          1e-4,
	}

	for _, opt := range opts {
		opt(en)
	}

	return en
}

// WithENAlpha sets the overall regularization strength
func WithENAlpha(alpha float64) ElasticNetOption {
	return func(en *ElasticNet) {
		en.alpha = alpha
	}
}

// WithENL1Ratio sets the L1/L2 mixing parameter
func WithENL1Ratio(ratio float64) ElasticNetOption {
	return func(en *ElasticNet) {
		en.l1Ratio = ratio
	}
}

// WithENFitIntercept sets whether to fit an intercept
func WithENFitIntercept(fit bool) ElasticNetOption {
	return func(en *ElasticNet) {
		en.fitIntercept = fit
	}
}

// WithENMaxIter sets the maximum number of coordinate descent sweeps
func WithENMaxIter(maxIter int) ElasticNetOption {
	return func(en *ElasticNet) {
		en.maxIter = maxIter
	}
}

// WithENTol sets the convergence tolerance on coefficient updates
func WithENTol(tol float64) ElasticNetOption {
	return func(en *ElasticNet) {
		en.tol = tol
	}
}

// Fit trains the model with cyclic coordinate descent. With fit_intercept
// the features and the target are centered first, so the intercept falls
// out as ybar - xbar . w.
func (en *ElasticNet) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return kiterrors.NewModelError("ElasticNet.Fit", "empty data", kiterrors.ErrEmptyData)
	}
	if nSamples != yRows {
		return kiterrors.NewDimensionError("ElasticNet.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return kiterrors.NewValueError("ElasticNet.Fit",
			fmt.Sprintf("y must be a column vector, got shape (%d, %d)", yRows, yCols))
	}
	if en.alpha < 0 {
		return kiterrors.NewValidationError("alpha", "must be non-negative", en.alpha)
	}
	if en.l1Ratio < 0 || en.l1Ratio > 1 {
		return kiterrors.NewValidationError("l1_ratio", "must be in [0, 1]", en.l1Ratio)
	}

	en.nFeatures_ = nFeatures
	if en.coef_ == nil || len(en.coef_) != nFeatures {
		en.coef_ = make([]float64, nFeatures)
	}

	// Work on centered copies so the intercept drops out of the updates
	cols := make([][]float64, nFeatures)
	colMeans := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		col := make([]float64, nSamples)
		sum := 0.0
		for i := 0; i < nSamples; i++ {
			col[i] = X.At(i, j)
			sum += col[i]
		}
		if en.fitIntercept {
			mean := sum / float64(nSamples)
			colMeans[j] = mean
			for i := range col {
				col[i] -= mean
			}
		}
		cols[j] = col
	}

	yc := make([]float64, nSamples)
	yMean := 0.0
	for i := 0; i < nSamples; i++ {
		yc[i] = y.At(i, 0)
		yMean += yc[i]
	}
	yMean /= float64(nSamples)
	if en.fitIntercept {
		for i := range yc {
			yc[i] -= yMean
		}
	}

	// Per-feature second moments, reused every sweep
	colSq := make([]float64, nFeatures)
	for j, col := range cols {
		for _, v := range col {
			colSq[j] += v * v
		}
		colSq[j] /= float64(nSamples)
	}

	// Residual under the current (possibly warm started) coefficients
	residual := make([]float64, nSamples)
	copy(residual, yc)
	for j, w := range en.coef_ {
		if w == 0 {
			continue
		}
		for i, v := range cols[j] {
			residual[i] -= v * w
		}
	}

	lambdaL1 := en.alpha * en.l1Ratio
	lambdaL2 := en.alpha * (1.0 - en.l1Ratio)

	converged := false
	for iter := 0; iter < en.maxIter; iter++ {
		maxDelta := 0.0

		for j := 0; j < nFeatures; j++ {
			if colSq[j] == 0 {
				// Constant column carries no signal
				en.coef_[j] = 0
				continue
			}

			wOld := en.coef_[j]
			col := cols[j]

			// Correlation of feature j with the partial residual
			rho := 0.0
			for i, v := range col {
				rho += v * (residual[i] + v*wOld)
			}
			rho /= float64(nSamples)

			wNew := softThreshold(rho, lambdaL1) / (colSq[j] + lambdaL2)

			if delta := wNew - wOld; delta != 0 {
				for i, v := range col {
					residual[i] -= v * delta
				}
				en.coef_[j] = wNew
				if math.Abs(delta) > maxDelta {
					maxDelta = math.Abs(delta)
				}
			}
		}

		en.nIter_ = iter + 1
		if maxDelta < en.tol {
			converged = true
			break
		}
	}

	if !converged {
		kiterrors.Warn(kiterrors.NewConvergenceWarning("ElasticNet", en.maxIter,
			"coordinate descent did not converge; consider increasing max_iter or alpha"))
	}

	if en.fitIntercept {
		en.intercept_ = yMean
		for j, w := range en.coef_ {
			en.intercept_ -= colMeans[j] * w
		}
	} else {
		en.intercept_ = 0
	}

	en.state.SetDimensions(nFeatures, nSamples)
	en.state.SetFitted()
	return nil
}

// Predict returns predicted values for X.
func (en *ElasticNet) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := en.state.RequireFitted("ElasticNet", "Predict"); err != nil {
		return nil, err
	}

	rows, cols := X.Dims()
	if cols != en.nFeatures_ {
		return nil, kiterrors.NewDimensionError("ElasticNet.Predict", en.nFeatures_, cols, 1)
	}

	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		pred := en.intercept_
		for j := 0; j < cols; j++ {
			pred += X.At(i, j) * en.coef_[j]
		}
		predictions.Set(i, 0, pred)
	}

	return predictions, nil
}

// Score returns the coefficient of determination R^2 of the prediction.
func (en *ElasticNet) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := en.Predict(X)
	if err != nil {
		return 0, err
	}

	rows, _ := y.Dims()
	var yMean float64
	for i := 0; i < rows; i++ {
		yMean += y.At(i, 0)
	}
	yMean /= float64(rows)

	var ssTot, ssRes float64
	for i := 0; i < rows; i++ {
		yi := y.At(i, 0)
		predi := predictions.At(i, 0)
		ssTot += (yi - yMean) * (yi - yMean)
		ssRes += (yi - predi) * (yi - predi)
	}

	if ssTot == 0 {
		return 0, kiterrors.NewValueError("ElasticNet.Score", "Cannot compute score with zero variance in y_true")
	}

	return 1.0 - (ssRes / ssTot), nil
}

// IsFitted returns whether the model has been fitted.
func (en *ElasticNet) IsFitted() bool {
	return en.state.IsFitted()
}

// Coef returns a copy of the fitted coefficients.
func (en *ElasticNet) Coef() []float64 {
	if en.coef_ == nil {
		return nil
	}
	return append([]float64(nil), en.coef_...)
}

// Intercept returns the fitted intercept.
func (en *ElasticNet) Intercept() float64 {
	return en.intercept_
}

// NIter returns the number of coordinate descent sweeps run.
func (en *ElasticNet) NIter() int {
	return en.nIter_
}

// SparsityRatio returns the fraction of zero coefficients.
func (en *ElasticNet) SparsityRatio() float64 {
	if len(en.coef_) == 0 {
		return 0
	}
	zeros := 0
	for _, w := range en.coef_ {
		if w == 0 {
			zeros++
		}
	}
	return float64(zeros) / float64(len(en.coef_))
}

// GetParams returns the model hyperparameters
func (en *ElasticNet) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"alpha":         en.alpha,
		"l1_ratio":      en.l1Ratio,
		"fit_intercept": en.fitIntercept,
		"max_iter":      en.maxIter,
		"tol":           en.tol,
	}
}

// SetParams sets the model hyperparameters
func (en *ElasticNet) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "alpha":
			en.alpha = value.(float64)
		case "l1_ratio":
			en.l1Ratio = value.(float64)
		case "fit_intercept":
			en.fitIntercept = value.(bool)
		case "max_iter":
			en.maxIter = value.(int)
		case "tol":
			en.tol = value.(float64)
		default:
			return kiterrors.NewValueError("ElasticNet.SetParams",
				"unknown parameter: "+key)
		}
	}
	return nil
}

// ExportWeights exposes the fitted parameters for inspection endpoints.
func (en *ElasticNet) ExportWeights() (*model.ModelWeights, error) {
	if err := en.state.RequireFitted("ElasticNet", "ExportWeights"); err != nil {
		return nil, err
	}

	w := model.NewModelWeights("ElasticNet")
	w.Coefficients = en.Coef()
	w.Intercept = en.intercept_
	w.Hyperparameters = en.GetParams()
	w.Metadata["n_features"] = en.nFeatures_
	w.Metadata["n_iter"] = en.nIter_
	w.Metadata["sparsity"] = en.SparsityRatio()
	w.IsFitted = true
	return w, nil
}

// PathPoint holds the solution at one alpha along a regularization path.
type PathPoint struct {
	Alpha     float64
	Coef      []float64
	Intercept float64
	NIter     int
}

// Path fits the model along a descending ladder of alphas, warm starting
// each fit from the previous solution the way glmnet walks its lambda
// sequence. The returned points follow the order of alphas.
func (en *ElasticNet) Path(X, y mat.Matrix, alphas []float64) ([]PathPoint, error) {
	if len(alphas) == 0 {
		return nil, kiterrors.NewValueError("ElasticNet.Path", "alphas must not be empty")
	}

	points := make([]PathPoint, 0, len(alphas))
	for _, alpha := range alphas {
		en.alpha = alpha
		if err := en.Fit(X, y); err != nil {
			return nil, kiterrors.Wrapf(err, "path fit at alpha=%g", alpha)
		}
		points = append(points, PathPoint{
			Alpha:     alpha,
			Coef:      en.Coef(),
			Intercept: en.intercept_,
			NIter:     en.nIter_,
		})
	}
	return points, nil
}

// elasticNetGobState mirrors the unexported fields for gob serialization.
type elasticNetGobState struct {
	Alpha        float64
	L1Ratio      float64
	FitIntercept bool
	MaxIter      int
	Tol          float64
	Coef         []float64
	Intercept    float64
	NFeatures    int
	NIter        int
	Fitted       bool
}

// GobEncode serializes the model including learned parameters.
func (en *ElasticNet) GobEncode() ([]byte, error) {
	state := elasticNetGobState{
		Alpha:        en.alpha,
		L1Ratio:      en.l1Ratio,
		FitIntercept: en.fitIntercept,
		MaxIter:      en.maxIter,
		Tol:          en.tol,
		Coef:         en.coef_,
		Intercept:    en.intercept_,
		NFeatures:    en.nFeatures_,
		NIter:        en.nIter_,
		Fitted:       en.state.IsFitted(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, kiterrors.Wrap(err, "ElasticNet.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a model serialized by GobEncode.
func (en *ElasticNet) GobDecode(data []byte) error {
	var state elasticNetGobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return kiterrors.Wrap(err, "ElasticNet.GobDecode")
	}

	en.alpha = state.Alpha
	en.l1Ratio = state.L1Ratio
	en.fitIntercept = state.FitIntercept
	en.maxIter = state.MaxIter
	en.tol = state.Tol
	en.coef_ = state.Coef
	en.intercept_ = state.Intercept
	en.nFeatures_ = state.NFeatures
	en.nIter_ = state.NIter

	en.state = model.NewStateManager()
	if state.Fitted {
		en.state.SetFitted()
	}
	return nil
}

// String returns the string representation of the model
func (en *ElasticNet) String() string {
	return fmt.Sprintf("ElasticNet(alpha=%g, l1_ratio=%g, fitted=%t)",
		en.alpha, en.l1Ratio, en.state.IsFitted())
}
