package preprocessing

import (
	"math"
	"testing"
)

func TestOneHotEncoderBasic(t *testing.T) {
	rows := [][]string{
		{"red", "S"},
		{"blue", "M"},
		{"red", "L"},
	}

	enc := NewOneHotEncoder()
	out, err := enc.FitTransform(rows)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	// levels sort lexicographically: [blue red], [L M S]
	r, c := out.Dims()
	if r != 3 || c != 5 {
		t.Fatalf("dims = (%d,%d), want (3,5)", r, c)
	}

	names, err := enc.FeatureNames([]string{"color", "size"})
	if err != nil {
		t.Fatalf("FeatureNames failed: %v", err)
	}
	wantNames := []string{"color_blue", "color_red", "size_L", "size_M", "size_S"}
	for i, w := range wantNames {
		if names[i] != w {
			t.Errorf("names[%d] = %s, want %s", i, names[i], w)
		}
	}

	// first row: red -> col 1, S -> col 4
	want := [][]float64{
		{0, 1, 0, 0, 1},
		{1, 0, 0, 1, 0},
		{0, 1, 1, 0, 0},
	}
	for i := range want {
		for j := range want[i] {
			if math.Abs(out.At(i, j)-want[i][j]) > 1e-9 {
				t.Errorf("out[%d][%d] = %f, want %f", i, j, out.At(i, j), want[i][j])
			}
		}
	}
}

func TestOneHotEncoderDropFirst(t *testing.T) {
	rows := [][]string{{"a"}, {"b"}, {"c"}}

	enc := NewOneHotEncoder(WithDropFirst(true))
	out, err := enc.FitTransform(rows)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	_, c := out.Dims()
	if c != 2 {
		t.Fatalf("width = %d, want 2", c)
	}
	// "a" is the dropped baseline: all zeros
	if out.At(0, 0) != 0 || out.At(0, 1) != 0 {
		t.Error("baseline level should encode as zeros")
	}
	if out.At(1, 0) != 1 || out.At(2, 1) != 1 {
		t.Error("remaining levels misplaced")
	}

	names, err := enc.FeatureNames([]string{"x"})
	if err != nil {
		t.Fatalf("FeatureNames failed: %v", err)
	}
	if len(names) != 2 || names[0] != "x_b" || names[1] != "x_c" {
		t.Errorf("names = %v, want [x_b x_c]", names)
	}
}

func TestOneHotEncoderUnknown(t *testing.T) {
	rows := [][]string{{"a"}, {"b"}}

	strict := NewOneHotEncoder()
	if err := strict.Fit(rows); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if _, err := strict.Transform([][]string{{"z"}}); err == nil {
		t.Error("unknown level should fail with the error policy")
	}

	loose := NewOneHotEncoder(WithHandleUnknown(HandleUnknownIgnore))
	if err := loose.Fit(rows); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	out, err := loose.Transform([][]string{{"z"}})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if out.At(0, 0) != 0 || out.At(0, 1) != 0 {
		t.Error("unknown level should encode as zeros with the ignore policy")
	}
}

func TestOneHotEncoderIndexRebuild(t *testing.T) {
	enc := NewOneHotEncoder()
	if err := enc.Fit([][]string{{"x"}, {"y"}}); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	// simulate a gob round trip, which loses the unexported index
	clone := &OneHotEncoder{
		Categories:    enc.Categories,
		HandleUnknown: enc.HandleUnknown,
	}
	clone.SetFitted()

	out, err := clone.Transform([][]string{{"y"}})
	if err != nil {
		t.Fatalf("Transform after rebuild failed: %v", err)
	}
	if out.At(0, 1) != 1 {
		t.Error("rebuilt index produced a wrong encoding")
	}
}

func TestOneHotEncoderErrors(t *testing.T) {
	enc := NewOneHotEncoder()
	if _, err := enc.Transform([][]string{{"a"}}); err == nil {
		t.Error("Transform before Fit should fail")
	}
	if err := enc.Fit(nil); err == nil {
		t.Error("empty fit data should fail")
	}

	if err := enc.Fit([][]string{{"a", "b"}}); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if _, err := enc.Transform([][]string{{"a"}}); err == nil {
		t.Error("row width mismatch should fail")
	}
}

func TestLabelEncoder(t *testing.T) {
	le := NewLabelEncoder()
	codes, err := le.FitTransform([]string{"No", "Yes", "No", "Yes", "Yes"})
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	// sorted classes: [No Yes] -> No=0, Yes=1
	want := []float64{0, 1, 0, 1, 1}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes[%d] = %f, want %f", i, codes[i], want[i])
		}
	}
	if len(le.Classes) != 2 || le.Classes[1] != "Yes" {
		t.Errorf("Classes = %v", le.Classes)
	}

	labels, err := le.InverseTransform([]float64{1, 0})
	if err != nil {
		t.Fatalf("InverseTransform failed: %v", err)
	}
	if labels[0] != "Yes" || labels[1] != "No" {
		t.Errorf("labels = %v", labels)
	}
}

func TestLabelEncoderErrors(t *testing.T) {
	le := NewLabelEncoder()
	if _, err := le.Transform([]string{"a"}); err == nil {
		t.Error("Transform before Fit should fail")
	}
	if err := le.Fit(nil); err == nil {
		t.Error("empty labels should fail")
	}
	if err := le.Fit([]string{"a", ""}); err == nil {
		t.Error("missing label should fail")
	}

	if err := le.Fit([]string{"a", "b"}); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if _, err := le.Transform([]string{"c"}); err == nil {
		t.Error("unknown label should fail")
	}
	if _, err := le.InverseTransform([]float64{2}); err == nil {
		t.Error("out-of-range code should fail")
	}
	if _, err := le.InverseTransform([]float64{0.5}); err == nil {
		t.Error("fractional code should fail")
	}
}
