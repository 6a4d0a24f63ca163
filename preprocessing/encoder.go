package preprocessing

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Unknown-category policies for OneHotEncoder.
const (
	HandleUnknownError  = "error"
	HandleUnknownIgnore = "ignore"
)

// OneHotEncoder maps categorical string records to 0/1 indicator columns,
// one column per category level learned at fit time. Levels are ordered
// lexicographically within each input column, matching
// sklearn.preprocessing.OneHotEncoder.
type OneHotEncoder struct {
	model.StateManager

	// Categories holds the sorted levels per input column.
	Categories [][]string

	// DropFirst drops the first level of each column, the usual choice
	// for linear models to avoid redundant indicators.
	DropFirst bool

	// HandleUnknown is "error" or "ignore". With "ignore", an unseen
	// level encodes as all zeros.
	HandleUnknown string

	// index maps level to position per column. Rebuilt lazily, so a
	// gob-decoded encoder works without re-fitting.
	index []map[string]int
}

// OneHotOption configures a OneHotEncoder.
type OneHotOption func(*OneHotEncoder)

// WithDropFirst drops the first category level of every column.
func WithDropFirst(drop bool) OneHotOption {
	return func(e *OneHotEncoder) { e.DropFirst = drop }
}

// WithHandleUnknown sets the unknown-category policy ("error" or "ignore").
func WithHandleUnknown(policy string) OneHotOption {
	return func(e *OneHotEncoder) { e.HandleUnknown = policy }
}

// NewOneHotEncoder creates a OneHotEncoder. The default keeps all levels
// and errors on unknown categories.
func NewOneHotEncoder(opts ...OneHotOption) *OneHotEncoder {
	e := &OneHotEncoder{HandleUnknown: HandleUnknownError}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fit learns the category levels of each column from row-major records.
func (e *OneHotEncoder) Fit(rows [][]string) error {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	if e.HandleUnknown != HandleUnknownError && e.HandleUnknown != HandleUnknownIgnore {
		return errors.NewValueError("OneHotEncoder.Fit",
			fmt.Sprintf("unknown handle_unknown policy %q", e.HandleUnknown))
	}

	nCols := len(rows[0])
	levels := make([]map[string]bool, nCols)
	for j := range levels {
		levels[j] = make(map[string]bool)
	}
	for _, row := range rows {
		if len(row) != nCols {
			return errors.NewDimensionError("OneHotEncoder.Fit", nCols, len(row), 1)
		}
		for j, v := range row {
			levels[j][v] = true
		}
	}

	e.Categories = make([][]string, nCols)
	for j, set := range levels {
		cats := make([]string, 0, len(set))
		for v := range set {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		e.Categories[j] = cats
	}
	e.index = nil

	e.SetDimensions(nCols, len(rows))
	e.SetFitted()
	return nil
}

// Transform encodes records into a dense indicator matrix. The output has
// one column per kept level, ordered column-by-column then level-by-level.
func (e *OneHotEncoder) Transform(rows [][]string) (*mat.Dense, error) {
	if err := e.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	e.ensureIndex()
	if len(rows) == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}

	nCols := len(e.Categories)
	out := mat.NewDense(len(rows), e.NumOutputFeatures(), nil)

	for i, row := range rows {
		if len(row) != nCols {
			return nil, errors.NewDimensionError("OneHotEncoder.Transform", nCols, len(row), 1)
		}
		offset := 0
		for j, v := range row {
			kept := len(e.Categories[j])
			first := 0
			if e.DropFirst {
				kept--
				first = 1
			}

			pos, known := e.index[j][v]
			if !known {
				if e.HandleUnknown == HandleUnknownError {
					return nil, errors.NewValueError("OneHotEncoder.Transform",
						fmt.Sprintf("unknown category %q in column %d", v, j))
				}
				// ignore policy leaves the whole block zero
			} else if pos >= first {
				out.Set(i, offset+pos-first, 1)
			}
			offset += kept
		}
	}
	return out, nil
}

// FitTransform fits on rows and encodes the same rows.
func (e *OneHotEncoder) FitTransform(rows [][]string) (*mat.Dense, error) {
	if err := e.Fit(rows); err != nil {
		return nil, err
	}
	return e.Transform(rows)
}

// NumOutputFeatures returns the width of the encoded matrix.
func (e *OneHotEncoder) NumOutputFeatures() int {
	width := 0
	for _, cats := range e.Categories {
		n := len(cats)
		if e.DropFirst {
			n--
		}
		if n > 0 {
			width += n
		}
	}
	return width
}

// FeatureNames derives output column names as "<input>_<level>" given the
// input column names.
func (e *OneHotEncoder) FeatureNames(inputNames []string) ([]string, error) {
	if err := e.RequireFitted("OneHotEncoder", "FeatureNames"); err != nil {
		return nil, err
	}
	if len(inputNames) != len(e.Categories) {
		return nil, errors.NewDimensionError("OneHotEncoder.FeatureNames",
			len(e.Categories), len(inputNames), 1)
	}

	names := make([]string, 0, e.NumOutputFeatures())
	for j, cats := range e.Categories {
		start := 0
		if e.DropFirst && len(cats) > 0 {
			start = 1
		}
		for _, level := range cats[start:] {
			names = append(names, inputNames[j]+"_"+level)
		}
	}
	return names, nil
}

// GetParams returns the encoder configuration.
func (e *OneHotEncoder) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"drop_first":     e.DropFirst,
		"handle_unknown": e.HandleUnknown,
	}
}

func (e *OneHotEncoder) ensureIndex() {
	if e.index != nil {
		return
	}
	e.index = make([]map[string]int, len(e.Categories))
	for j, cats := range e.Categories {
		m := make(map[string]int, len(cats))
		for pos, v := range cats {
			m[v] = pos
		}
		e.index[j] = m
	}
}

// LabelEncoder maps string class labels to consecutive float codes
// 0..n-1 in lexicographic order, the form estimator targets take.
type LabelEncoder struct {
	model.StateManager

	// Classes holds the sorted class labels; the code of Classes[i] is i.
	Classes []string
}

// NewLabelEncoder creates an unfitted LabelEncoder.
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// Fit learns the sorted class labels.
func (le *LabelEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		if l == "" {
			return errors.NewValueError("LabelEncoder.Fit", "missing label in target")
		}
		set[l] = true
	}
	classes := make([]string, 0, len(set))
	for l := range set {
		classes = append(classes, l)
	}
	sort.Strings(classes)
	le.Classes = classes

	le.SetDimensions(1, len(labels))
	le.SetFitted()
	return nil
}

// Transform encodes labels to their class codes.
func (le *LabelEncoder) Transform(labels []string) ([]float64, error) {
	if err := le.RequireFitted("LabelEncoder", "Transform"); err != nil {
		return nil, err
	}

	codes := make([]float64, len(labels))
	for i, l := range labels {
		code := sort.SearchStrings(le.Classes, l)
		if code == len(le.Classes) || le.Classes[code] != l {
			return nil, errors.NewValueError("LabelEncoder.Transform",
				fmt.Sprintf("unknown label %q", l))
		}
		codes[i] = float64(code)
	}
	return codes, nil
}

// FitTransform fits on labels and encodes them.
func (le *LabelEncoder) FitTransform(labels []string) ([]float64, error) {
	if err := le.Fit(labels); err != nil {
		return nil, err
	}
	return le.Transform(labels)
}

// InverseTransform decodes class codes back to labels.
func (le *LabelEncoder) InverseTransform(codes []float64) ([]string, error) {
	if err := le.RequireFitted("LabelEncoder", "InverseTransform"); err != nil {
		return nil, err
	}

	labels := make([]string, len(codes))
	for i, c := range codes {
		idx := int(c)
		if idx < 0 || idx >= len(le.Classes) || float64(idx) != c {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform",
				fmt.Sprintf("code %v out of range", c))
		}
		labels[i] = le.Classes[idx]
	}
	return labels, nil
}

