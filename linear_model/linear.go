package linear_model

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/core/parallel"
	"github.com/YuminosukeSato/churnkit/metrics"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// LinearRegression is an ordinary least squares regression model.
// Compatible with scikit-learn's LinearRegression.
type LinearRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	fitIntercept bool // Whether to learn the intercept
	positive     bool // Whether to clip coefficients to be non-negative

	// Learned parameters
	coef_      []float64 // Weight coefficients
	intercept_ float64   // Intercept

	// Statistical information
	nFeatures_ int // Number of features
	nSamples_  int // Number of samples
	rank_      int // Design matrix rank assuming full column rank
}

// LinearRegressionOption は設定オプション
type LinearRegressionOption func(*LinearRegression)

// NewLinearRegression は新しいLinearRegressionモデルを作成
func NewLinearRegression(options ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{
		state:        model.NewStateManager(),
		fitIntercept: true,
	}

	for _, opt := range options {
		opt(lr)
	}

	return lr
}

// WithFitIntercept は切片の学習有無を設定
func WithFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.fitIntercept = fit
	}
}

// WithPositive は係数の正制約を設定
func WithPositive(positive bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.positive = positive
	}
}

// Fit はモデルを訓練データで学習
// 正規方程式の代わりに数値的に安定なQR分解を使用
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()

	if rows == 0 || cols == 0 {
		return kiterrors.NewModelError("LinearRegression.Fit", "empty data", kiterrors.ErrEmptyData)
	}
	if rows != yRows {
		return kiterrors.NewDimensionError("LinearRegression.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return kiterrors.NewValueError("LinearRegression.Fit",
			fmt.Sprintf("y must be a column vector, got shape (%d, %d)", yRows, yCols))
	}

	lr.nSamples_ = rows
	lr.nFeatures_ = cols

	// 切片項のために X に 1 の列を追加
	var XFit mat.Matrix
	if lr.fitIntercept {
		XWithIntercept := mat.NewDense(rows, cols+1, nil)

		// 行数が大きい場合のみ並列化
		const parallelThreshold = 1000
		parallel.ParallelizeWithThreshold(rows, parallelThreshold, func(start, end int) {
			for i := start; i < end; i++ {
				XWithIntercept.Set(i, 0, 1.0)
				for j := 0; j < cols; j++ {
					XWithIntercept.Set(i, j+1, X.At(i, j))
				}
			}
		})
		XFit = XWithIntercept
	} else {
		XFit = X
	}

	var qr mat.QR
	qr.Factorize(XFit)

	lr.rank_ = cols
	if lr.fitIntercept {
		lr.rank_++
	}

	_, qrCols := XFit.Dims()
	coefficients := mat.NewDense(qrCols, 1, nil)
	if err := qr.SolveTo(coefficients, false, y); err != nil {
		return kiterrors.NewModelError("LinearRegression.Fit", "singular design matrix", kiterrors.ErrSingularMatrix)
	}

	if lr.fitIntercept {
		lr.intercept_ = coefficients.At(0, 0)
		lr.coef_ = make([]float64, cols)
		for i := 0; i < cols; i++ {
			lr.coef_[i] = coefficients.At(i+1, 0)
		}
	} else {
		lr.intercept_ = 0.0
		lr.coef_ = make([]float64, cols)
		for i := 0; i < cols; i++ {
			lr.coef_[i] = coefficients.At(i, 0)
		}
	}

	if lr.positive {
		for i := range lr.coef_ {
			if lr.coef_[i] < 0 {
				lr.coef_[i] = 0
			}
		}
		if lr.intercept_ < 0 {
			lr.intercept_ = 0
		}
	}

	lr.state.SetFitted()
	lr.state.SetDimensions(lr.nFeatures_, lr.nSamples_)
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LinearRegression", "Predict"); err != nil {
		return nil, err
	}

	rows, cols := X.Dims()
	if cols != lr.nFeatures_ {
		return nil, kiterrors.NewDimensionError("LinearRegression.Predict", lr.nFeatures_, cols, 1)
	}

	predictions := mat.NewDense(rows, 1, nil)

	for i := 0; i < rows; i++ {
		pred := lr.intercept_
		for j := 0; j < cols; j++ {
			pred += X.At(i, j) * lr.coef_[j]
		}
		predictions.Set(i, 0, pred)
	}

	return predictions, nil
}

// Score はモデルの決定係数（R²）を計算
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2ScoreMatrix(y, predictions)
}

// Coef は学習された重み係数を返す
func (lr *LinearRegression) Coef() []float64 {
	if lr.coef_ == nil {
		return nil
	}
	coef := make([]float64, len(lr.coef_))
	copy(coef, lr.coef_)
	return coef
}

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept_
}

// IsFitted returns whether the model has been fitted
func (lr *LinearRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// GetParams returns the model's hyperparameters (scikit-learn compatible)
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.fitIntercept,
		"positive":      lr.positive,
	}
}

// SetParams sets the model's hyperparameters (scikit-learn compatible)
func (lr *LinearRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "fit_intercept":
			lr.fitIntercept = value.(bool)
		case "positive":
			lr.positive = value.(bool)
		default:
			return kiterrors.NewValueError("LinearRegression.SetParams",
				"unknown parameter: "+key)
		}
	}
	return nil
}

// ExportWeights はモデルの重みをエクスポート（完全な再現性を保証）
func (lr *LinearRegression) ExportWeights() (*model.ModelWeights, error) {
	if err := lr.state.RequireFitted("LinearRegression", "ExportWeights"); err != nil {
		return nil, err
	}

	weights := model.NewModelWeights("LinearRegression")
	weights.Coefficients = lr.Coef()
	weights.Intercept = lr.intercept_
	weights.IsFitted = true
	weights.Hyperparameters = lr.GetParams()
	weights.Metadata["n_features"] = lr.nFeatures_
	weights.Metadata["n_samples"] = lr.nSamples_
	weights.Metadata["rank"] = lr.rank_

	// チェックサムを計算
	data, _ := json.Marshal(weights.Coefficients)
	hash := sha256.Sum256(data)
	weights.Metadata["checksum"] = hex.EncodeToString(hash[:])

	return weights, nil
}

// ImportWeights はモデルの重みをインポート（完全な再現性を保証）
func (lr *LinearRegression) ImportWeights(weights *model.ModelWeights) error {
	if weights == nil {
		return kiterrors.NewValueError("LinearRegression.ImportWeights", "weights cannot be nil")
	}

	if weights.ModelType != "LinearRegression" {
		return kiterrors.NewValueError("LinearRegression.ImportWeights",
			fmt.Sprintf("model type mismatch: expected LinearRegression, got %s", weights.ModelType))
	}

	if err := lr.SetParams(weights.Hyperparameters); err != nil {
		return err
	}

	lr.coef_ = make([]float64, len(weights.Coefficients))
	copy(lr.coef_, weights.Coefficients)
	lr.intercept_ = weights.Intercept

	// JSON経由ではintがfloat64として届く
	if v, ok := weights.Metadata["n_features"].(float64); ok {
		lr.nFeatures_ = int(v)
	} else if v, ok := weights.Metadata["n_features"].(int); ok {
		lr.nFeatures_ = v
	}
	if v, ok := weights.Metadata["n_samples"].(float64); ok {
		lr.nSamples_ = int(v)
	} else if v, ok := weights.Metadata["n_samples"].(int); ok {
		lr.nSamples_ = v
	}
	if v, ok := weights.Metadata["rank"].(float64); ok {
		lr.rank_ = int(v)
	} else if v, ok := weights.Metadata["rank"].(int); ok {
		lr.rank_ = v
	}

	// チェックサムを検証
	if checksumStr, ok := weights.Metadata["checksum"].(string); ok {
		data, _ := json.Marshal(weights.Coefficients)
		hash := sha256.Sum256(data)
		if checksumStr != hex.EncodeToString(hash[:]) {
			return kiterrors.NewValueError("LinearRegression.ImportWeights",
				"checksum mismatch: weights may be corrupted")
		}
	}

	lr.state.SetFitted()
	lr.state.SetDimensions(lr.nFeatures_, lr.nSamples_)
	return nil
}

// linearGobState mirrors the unexported fields for gob serialization.
type linearGobState struct {
	FitIntercept bool
	Positive     bool
	Coef         []float64
	Intercept    float64
	NFeatures    int
	NSamples     int
	Rank         int
	Fitted       bool
}

// GobEncode serializes the model including learned parameters.
func (lr *LinearRegression) GobEncode() ([]byte, error) {
	state := linearGobState{
		FitIntercept: lr.fitIntercept,
		Positive:     lr.positive,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		NFeatures:    lr.nFeatures_,
		NSamples:     lr.nSamples_,
		Rank:         lr.rank_,
		Fitted:       lr.state.IsFitted(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, kiterrors.Wrap(err, "LinearRegression.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a model serialized by GobEncode.
func (lr *LinearRegression) GobDecode(data []byte) error {
	var state linearGobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return kiterrors.Wrap(err, "LinearRegression.GobDecode")
	}

	lr.fitIntercept = state.FitIntercept
	lr.positive = state.Positive
	lr.coef_ = state.Coef
	lr.intercept_ = state.Intercept
	lr.nFeatures_ = state.NFeatures
	lr.nSamples_ = state.NSamples
	lr.rank_ = state.Rank

	lr.state = model.NewStateManager()
	lr.state.SetDimensions(state.NFeatures, state.NSamples)
	if state.Fitted {
		lr.state.SetFitted()
	}
	return nil
}

// String returns the string representation of the model
func (lr *LinearRegression) String() string {
	if !lr.state.IsFitted() {
		return fmt.Sprintf("LinearRegression(fit_intercept=%t, positive=%t)",
			lr.fitIntercept, lr.positive)
	}
	return fmt.Sprintf("LinearRegression(fit_intercept=%t, n_features=%d, fitted=true)",
		lr.fitIntercept, lr.nFeatures_)
}
