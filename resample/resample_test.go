package resample

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

// imbalancedData builds 6 rows of class 0 and 2 rows of class 1. Feature 0
// holds the original row number so pairing survives any reordering.
func imbalancedData() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(8, 2, nil)
	y := mat.NewDense(8, 1, nil)
	for i := 0; i < 8; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i)*10)
		if i >= 6 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func countLabels(y mat.Matrix) map[float64]int {
	rows, _ := y.Dims()
	counts := make(map[float64]int)
	for i := 0; i < rows; i++ {
		counts[y.At(i, 0)]++
	}
	return counts
}

func checkPairing(t *testing.T, X, y mat.Matrix, origX, origY mat.Matrix, indices []int) {
	t.Helper()
	rows, cols := X.Dims()
	if len(indices) != rows {
		t.Fatalf("Expected %d indices, got %d", rows, len(indices))
	}
	for i := 0; i < rows; i++ {
		src := indices[i]
		for j := 0; j < cols; j++ {
			if X.At(i, j) != origX.At(src, j) {
				t.Errorf("Row %d does not match source row %d in column %d", i, src, j)
			}
		}
		if y.At(i, 0) != origY.At(src, 0) {
			t.Errorf("Label %d does not match source row %d", i, src)
		}
	}
}

func TestUpSample_BalancesClasses(t *testing.T) {
	X, y := imbalancedData()

	XUp, yUp, indices, err := UpSample(X, y, WithSeed(42))
	if err != nil {
		t.Fatalf("Failed to upsample: %v", err)
	}

	rows, _ := XUp.Dims()
	if rows != 12 {
		t.Errorf("Expected 12 rows after upsampling, got %d", rows)
	}

	counts := countLabels(yUp)
	if counts[0] != 6 || counts[1] != 6 {
		t.Errorf("Expected 6 rows per class, got %v", counts)
	}

	// Majority rows are never replicated
	seen := make(map[int]int)
	for _, idx := range indices {
		seen[idx]++
	}
	for i := 0; i < 6; i++ {
		if seen[i] != 1 {
			t.Errorf("Majority row %d should appear exactly once, got %d", i, seen[i])
		}
	}
	// Every original minority row survives
	for i := 6; i < 8; i++ {
		if seen[i] < 1 {
			t.Errorf("Minority row %d should appear at least once", i)
		}
	}

	checkPairing(t, XUp, yUp, X, y, indices)
}

func TestUpSample_Deterministic(t *testing.T) {
	X, y := imbalancedData()

	_, _, first, err := UpSample(X, y, WithSeed(7))
	if err != nil {
		t.Fatalf("Failed to upsample: %v", err)
	}
	_, _, second, err := UpSample(X, y, WithSeed(7))
	if err != nil {
		t.Fatalf("Failed to upsample: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Expected identical index counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Same seed should reproduce the draw, index %d: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestDownSample_BalancesClasses(t *testing.T) {
	X, y := imbalancedData()

	XDown, yDown, indices, err := DownSample(X, y, WithSeed(42))
	if err != nil {
		t.Fatalf("Failed to downsample: %v", err)
	}

	rows, _ := XDown.Dims()
	if rows != 4 {
		t.Errorf("Expected 4 rows after downsampling, got %d", rows)
	}

	counts := countLabels(yDown)
	if counts[0] != 2 || counts[1] != 2 {
		t.Errorf("Expected 2 rows per class, got %v", counts)
	}

	// Sampling is without replacement
	seen := make(map[int]bool)
	for _, idx := range indices {
		if seen[idx] {
			t.Errorf("Row %d was selected twice", idx)
		}
		seen[idx] = true
	}
	// The minority class is kept whole
	if !seen[6] || !seen[7] {
		t.Errorf("Minority rows should all survive downsampling, got indices %v", indices)
	}

	checkPairing(t, XDown, yDown, X, y, indices)
}

func TestResample_SingleClassUnchanged(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	y := mat.NewDense(3, 1, []float64{1, 1, 1})

	XUp, _, indices, err := UpSample(X, y, WithSeed(42))
	if err != nil {
		t.Fatalf("Failed to upsample single class: %v", err)
	}

	rows, _ := XUp.Dims()
	if rows != 3 {
		t.Errorf("Single-class input should be returned unchanged, got %d rows", rows)
	}
	for i, idx := range indices {
		if idx != i {
			t.Errorf("Expected identity indices for single class, got %v", indices)
			break
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			if XUp.At(i, j) != X.At(i, j) {
				t.Errorf("Row %d changed during single-class passthrough", i)
			}
		}
	}

	XDown, _, _, err := DownSample(X, y)
	if err != nil {
		t.Fatalf("Failed to downsample single class: %v", err)
	}
	rows, _ = XDown.Dims()
	if rows != 3 {
		t.Errorf("Single-class input should be returned unchanged, got %d rows", rows)
	}
}

func TestResample_InvalidInput(t *testing.T) {
	// Zero-sized matrices cannot be built with gonum, so the empty-data
	// branch is exercised through the dimension checks instead.
	X := mat.NewDense(4, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	yShort := mat.NewDense(3, 1, []float64{0, 1, 0})
	if _, _, _, err := UpSample(X, yShort); err == nil {
		t.Error("UpSample should fail on mismatched row counts")
	}

	yWide := mat.NewDense(4, 2, nil)
	if _, _, _, err := DownSample(X, yWide); err == nil {
		t.Error("DownSample should fail when y is not a column vector")
	}
}
