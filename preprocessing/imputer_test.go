package preprocessing

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSimpleImputerStrategies(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(5, 1, []float64{1, 2, nan, 2, 5})

	tests := []struct {
		strategy string
		want     float64
	}{
		{StrategyMean, 2.5},
		{StrategyMedian, 2},
		{StrategyMostFrequent, 2},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			imp := NewSimpleImputer(tt.strategy)
			filled, err := imp.FitTransform(X)
			if err != nil {
				t.Fatalf("FitTransform failed: %v", err)
			}
			if math.Abs(filled.At(2, 0)-tt.want) > 1e-9 {
				t.Errorf("imputed value = %f, want %f", filled.At(2, 0), tt.want)
			}
			// observed cells are untouched
			if math.Abs(filled.At(0, 0)-1) > 1e-9 {
				t.Errorf("observed cell changed: %f", filled.At(0, 0))
			}
		})
	}
}

func TestSimpleImputerMedianEven(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(5, 1, []float64{1, 3, nan, 7, 9})

	imp := NewSimpleImputer(StrategyMedian)
	filled, err := imp.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}
	if math.Abs(filled.At(2, 0)-5) > 1e-9 {
		t.Errorf("median of {1,3,7,9} = %f, want 5", filled.At(2, 0))
	}
}

func TestSimpleImputerConstant(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(2, 2, []float64{nan, 1, 2, nan})

	imp := NewSimpleImputerConstant(-1)
	filled, err := imp.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}
	if filled.At(0, 0) != -1 || filled.At(1, 1) != -1 {
		t.Errorf("constant fill failed: %v", mat.Formatted(filled))
	}
}

func TestSimpleImputerErrors(t *testing.T) {
	imp := NewSimpleImputer("mode")
	if err := imp.Fit(mat.NewDense(1, 1, []float64{1})); err == nil {
		t.Error("unknown strategy should fail")
	}

	imp = NewSimpleImputer(StrategyMean)
	allMissing := mat.NewDense(2, 1, []float64{math.NaN(), math.NaN()})
	if err := imp.Fit(allMissing); err == nil {
		t.Error("all-missing column should fail")
	}

	imp = NewSimpleImputer(StrategyMean)
	if _, err := imp.Transform(mat.NewDense(1, 1, []float64{1})); err == nil {
		t.Error("Transform before Fit should fail")
	}
}

func TestSimpleImputerTransformNewData(t *testing.T) {
	nan := math.NaN()
	train := mat.NewDense(4, 1, []float64{2, 4, 6, 8})
	test := mat.NewDense(2, 1, []float64{nan, 10})

	imp := NewSimpleImputer(StrategyMean)
	if err := imp.Fit(train); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	filled, err := imp.Transform(test)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	// fill value comes from the training data, not the test data
	if math.Abs(filled.At(0, 0)-5) > 1e-9 {
		t.Errorf("imputed = %f, want training mean 5", filled.At(0, 0))
	}
}

func TestKNNImputerUniform(t *testing.T) {
	nan := math.NaN()
	// rows 0 and 1 are the closest neighbors of row 3 in the first column
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		1, 14,
		9, 100,
		1, nan,
	})

	imp := NewKNNImputer(2)
	filled, err := imp.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	// donors are rows 0 and 1: (10 + 14) / 2 = 12
	if math.Abs(filled.At(3, 1)-12) > 1e-9 {
		t.Errorf("imputed = %f, want 12", filled.At(3, 1))
	}
	// observed cells are untouched
	if math.Abs(filled.At(2, 1)-100) > 1e-9 {
		t.Errorf("observed cell changed: %f", filled.At(2, 1))
	}
}

func TestKNNImputerDistanceWeights(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(3, 2, []float64{
		0, 10,
		4, 20,
		1, nan,
	})

	imp := NewKNNImputerWeighted(2, "distance")
	filled, err := imp.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	// masked euclidean over the shared first column, scaled by 2/1:
	// d0 = sqrt(1*2) and d1 = sqrt(9*2); weights 1/d0 and 1/d1
	d0 := math.Sqrt(2)
	d1 := math.Sqrt(18)
	want := (10/d0 + 20/d1) / (1/d0 + 1/d1)
	if math.Abs(filled.At(2, 1)-want) > 1e-9 {
		t.Errorf("imputed = %f, want %f", filled.At(2, 1), want)
	}
}

func TestKNNImputerFallback(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(2, 2, []float64{
		1, 5,
		2, nan,
	})

	imp := NewKNNImputer(1)
	if err := imp.Fit(X); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	// a fully missing query row shares no coordinates with any donor,
	// so both cells fall back to the observed column means
	query := mat.NewDense(1, 2, []float64{nan, nan})
	filled, err := imp.Transform(query)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if math.Abs(filled.At(0, 0)-1.5) > 1e-9 {
		t.Errorf("imputed col 0 = %f, want 1.5", filled.At(0, 0))
	}
	if math.Abs(filled.At(0, 1)-5) > 1e-9 {
		t.Errorf("imputed col 1 = %f, want 5", filled.At(0, 1))
	}
}

func TestKNNImputerValidation(t *testing.T) {
	if err := NewKNNImputer(0).Fit(mat.NewDense(1, 1, []float64{1})); err == nil {
		t.Error("n_neighbors 0 should fail")
	}
	if err := NewKNNImputerWeighted(1, "gauss").Fit(mat.NewDense(1, 1, []float64{1})); err == nil {
		t.Error("unknown weights should fail")
	}
	if _, err := NewKNNImputer(1).Transform(mat.NewDense(1, 1, []float64{1})); err == nil {
		t.Error("Transform before Fit should fail")
	}
}
