package linear_model

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// enetTestData returns x = 1..5 and y = 2x + 1.
// Centered moments: var(x) = 2, cov(x, y) = 4, mean(y) = 7.
func enetTestData() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	y := mat.NewDense(5, 1, []float64{3, 5, 7, 9, 11})
	return X, y
}

// TestElasticNet_UnpenalizedLimit tests that alpha=0 recovers least squares
func TestElasticNet_UnpenalizedLimit(t *testing.T) {
	X, y := enetTestData()

	en := NewElasticNet(WithENAlpha(0), WithENTol(1e-10))
	if err := en.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	// Closed form with one feature: w = cov/var = 2, b = 7 - 3*2 = 1
	coef := en.Coef()
	if math.Abs(coef[0]-2.0) > 1e-9 {
		t.Errorf("Expected coefficient 2.0, got %v", coef[0])
	}
	if math.Abs(en.Intercept()-1.0) > 1e-9 {
		t.Errorf("Expected intercept 1.0, got %v", en.Intercept())
	}

	score, err := en.Score(X, y)
	if err != nil {
		t.Fatalf("Failed to score: %v", err)
	}
	if math.Abs(score-1.0) > 1e-9 {
		t.Errorf("Expected R^2 of 1.0, got %v", score)
	}
}

// TestElasticNet_RidgeLimit tests the pure L2 closed form
func TestElasticNet_RidgeLimit(t *testing.T) {
	X, y := enetTestData()

	en := NewElasticNet(WithENAlpha(1.0), WithENL1Ratio(0), WithENTol(1e-10))
	if err := en.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	// One feature: w = cov/(var + alpha) = 4/3
	coef := en.Coef()
	want := 4.0 / 3.0
	if math.Abs(coef[0]-want) > 1e-9 {
		t.Errorf("Expected ridge coefficient %v, got %v", want, coef[0])
	}
	if coef[0] == 0 {
		t.Error("Ridge should shrink but not zero the coefficient")
	}
}

// TestElasticNet_LassoSparsity tests that a large L1 penalty zeroes everything
func TestElasticNet_LassoSparsity(t *testing.T) {
	X, y := enetTestData()

	// lambda_l1 = 10 exceeds cov = 4, soft threshold kills the coefficient
	en := NewElasticNet(WithENAlpha(10.0), WithENL1Ratio(1.0))
	if err := en.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	coef := en.Coef()
	if coef[0] != 0 {
		t.Errorf("Expected coefficient exactly zero, got %v", coef[0])
	}
	// With no active features the intercept is the target mean
	if math.Abs(en.Intercept()-7.0) > 1e-9 {
		t.Errorf("Expected intercept 7.0, got %v", en.Intercept())
	}
	if en.SparsityRatio() != 1.0 {
		t.Errorf("Expected sparsity ratio 1.0, got %v", en.SparsityRatio())
	}
}

// TestElasticNet_Shrinkage tests that stronger alpha produces smaller weights
func TestElasticNet_Shrinkage(t *testing.T) {
	X, y := enetTestData()

	weak := NewElasticNet(WithENAlpha(0.01))
	weak.Fit(X, y)
	strong := NewElasticNet(WithENAlpha(1.0))
	strong.Fit(X, y)

	if math.Abs(strong.Coef()[0]) >= math.Abs(weak.Coef()[0]) {
		t.Errorf("Stronger alpha should shrink harder: strong=%v, weak=%v",
			strong.Coef()[0], weak.Coef()[0])
	}
}

// TestElasticNet_Path tests the warm started regularization path
func TestElasticNet_Path(t *testing.T) {
	X, y := enetTestData()

	en := NewElasticNet(WithENL1Ratio(0.5))
	points, err := en.Path(X, y, []float64{10, 1, 0.1})
	if err != nil {
		t.Fatalf("Failed to compute path: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("Expected 3 path points, got %d", len(points))
	}

	// lambda_l1 = 5 at alpha=10 kills the coefficient entirely
	if points[0].Coef[0] != 0 {
		t.Errorf("Expected zero coefficient at alpha=10, got %v", points[0].Coef[0])
	}

	// Coefficients grow as the penalty relaxes
	for i := 1; i < len(points); i++ {
		prev := math.Abs(points[i-1].Coef[0])
		cur := math.Abs(points[i].Coef[0])
		if cur < prev {
			t.Errorf("Point %d: coefficient magnitude should grow along the path, got %v after %v",
				i, cur, prev)
		}
	}

	if points[2].NIter == 0 {
		t.Error("Path points should record iteration counts")
	}

	if _, err := en.Path(X, y, nil); err == nil {
		t.Error("Expected error for empty alpha ladder")
	}
}

// TestElasticNet_Validation tests hyperparameter validation
func TestElasticNet_Validation(t *testing.T) {
	X, y := enetTestData()

	if err := NewElasticNet(WithENAlpha(-1)).Fit(X, y); err == nil {
		t.Error("Expected error for negative alpha")
	}
	if err := NewElasticNet(WithENL1Ratio(1.5)).Fit(X, y); err == nil {
		t.Error("Expected error for l1_ratio above 1")
	}
}

// TestElasticNet_ConstantColumn tests that a zero-variance feature stays inactive
func TestElasticNet_ConstantColumn(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	y := mat.NewDense(4, 1, []float64{2, 4, 6, 8})

	en := NewElasticNet(WithENAlpha(0.01))
	if err := en.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	if en.Coef()[1] != 0 {
		t.Errorf("Constant column should get zero weight, got %v", en.Coef()[1])
	}
}

// TestElasticNet_GetSetParams tests parameter management
func TestElasticNet_GetSetParams(t *testing.T) {
	en := NewElasticNet()

	params := en.GetParams()
	if params["alpha"].(float64) != 1.0 {
		t.Errorf("Default alpha should be 1.0, got %v", params["alpha"])
	}
	if params["l1_ratio"].(float64) != 0.5 {
		t.Errorf("Default l1_ratio should be 0.5, got %v", params["l1_ratio"])
	}

	err := en.SetParams(map[string]interface{}{
		"alpha":    0.5,
		"l1_ratio": 0.9,
		"max_iter": 2000,
	})
	if err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}
	if en.alpha != 0.5 || en.l1Ratio != 0.9 || en.maxIter != 2000 {
		t.Errorf("Params not updated: alpha=%v l1_ratio=%v max_iter=%v",
			en.alpha, en.l1Ratio, en.maxIter)
	}

	if err := en.SetParams(map[string]interface{}{"selection": "random"}); err == nil {
		t.Error("Expected error for unknown parameter")
	}
}

// TestElasticNet_NotFitted tests errors before fitting
func TestElasticNet_NotFitted(t *testing.T) {
	en := NewElasticNet()
	X := mat.NewDense(2, 1, []float64{1, 2})

	if _, err := en.Predict(X); err == nil {
		t.Error("Expected error when predicting without fitting")
	}
	if _, err := en.ExportWeights(); err == nil {
		t.Error("Expected error exporting weights before fit")
	}
}

// TestElasticNet_GobRoundTrip tests serialization of a fitted model
func TestElasticNet_GobRoundTrip(t *testing.T) {
	X, y := enetTestData()

	orig := NewElasticNet(WithENAlpha(0.1))
	if err := orig.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(orig); err != nil {
		t.Fatalf("Failed to encode model: %v", err)
	}

	restored := &ElasticNet{}
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("Failed to decode model: %v", err)
	}

	if !restored.IsFitted() {
		t.Fatal("Restored model should report fitted")
	}

	origPreds, _ := orig.Predict(X)
	restoredPreds, err := restored.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict with restored model: %v", err)
	}
	for i := 0; i < 5; i++ {
		if math.Abs(origPreds.At(i, 0)-restoredPreds.At(i, 0)) > 1e-12 {
			t.Errorf("Sample %d: original %v, restored %v",
				i, origPreds.At(i, 0), restoredPreds.At(i, 0))
		}
	}
}
