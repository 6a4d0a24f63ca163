package preprocessing

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/dataset"
	"github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Recipe is a declarative preprocessing pipeline over a dataset.Table.
// Steps are declared up front, then Fit resolves columns and learns every
// step's statistics from the training table only; Transform replays the
// fitted steps on any table with the same columns.
//
//	rec := preprocessing.NewRecipe("Churn").
//		Drop("customerID").
//		ImputeNumeric(preprocessing.StrategyMedian).
//		Normalize().
//		EncodeCategorical(preprocessing.WithHandleUnknown("ignore"))
//	if err := rec.Fit(train); err != nil { ... }
//	X, err := rec.Transform(test)
//
// Numeric features flow impute -> scale; categorical features are one-hot
// encoded; the output matrix is [numeric | indicators] with names from
// FeatureNames. A fitted Recipe is gob-serializable, which is how it
// travels inside a model artifact.
type Recipe struct {
	model.StateManager

	// TargetName is the column predicted by downstream estimators. It is
	// excluded from the feature matrix.
	TargetName string

	// Dropped columns are excluded from features entirely.
	Dropped []string

	// ImputeStrategy is "", a SimpleImputer strategy, or "knn".
	ImputeStrategy string

	// KNNNeighbors is the donor count when ImputeStrategy is "knn".
	KNNNeighbors int

	// ScaleNumeric standardizes numeric features after imputation.
	ScaleNumeric bool

	// EncodeDropFirst and EncodeHandleUnknown configure the one-hot step.
	EncodeDropFirst     bool
	EncodeHandleUnknown string

	// Resolved at fit time, in table order.
	NumericCols     []string
	CategoricalCols []string

	// Fitted sub-transformers. Nil means the step is inactive.
	Imputer     *SimpleImputer
	KNNImp      *KNNImputer
	Scaler      *StandardScaler
	Encoder     *OneHotEncoder
	TargetCoder *LabelEncoder

	// OutFeatures names the columns of the transformed matrix.
	OutFeatures []string
}

// NewRecipe creates a Recipe predicting the named target column.
func NewRecipe(target string) *Recipe {
	return &Recipe{
		TargetName:          target,
		EncodeHandleUnknown: HandleUnknownIgnore,
	}
}

// Drop excludes columns from the feature matrix, identifiers mostly.
func (r *Recipe) Drop(names ...string) *Recipe {
	r.Dropped = append(r.Dropped, names...)
	return r
}

// ImputeNumeric fills missing numeric cells with a SimpleImputer strategy.
func (r *Recipe) ImputeNumeric(strategy string) *Recipe {
	r.ImputeStrategy = strategy
	return r
}

// ImputeKNN fills missing numeric cells from the k nearest training rows.
func (r *Recipe) ImputeKNN(k int) *Recipe {
	r.ImputeStrategy = "knn"
	r.KNNNeighbors = k
	return r
}

// Normalize standardizes numeric features to zero mean and unit variance.
func (r *Recipe) Normalize() *Recipe {
	r.ScaleNumeric = true
	return r
}

// EncodeCategorical adjusts the one-hot step, which is always active for
// categorical feature columns.
func (r *Recipe) EncodeCategorical(opts ...OneHotOption) *Recipe {
	probe := NewOneHotEncoder(opts...)
	r.EncodeDropFirst = probe.DropFirst
	r.EncodeHandleUnknown = probe.HandleUnknown
	return r
}

// Fit resolves feature columns from the training table and fits every
// declared step on it.
func (r *Recipe) Fit(train *dataset.Table) error {
	if train == nil || train.NumRows() == 0 {
		return errors.NewModelError("Recipe.Fit", "empty data", errors.ErrEmptyData)
	}
	target := train.Column(r.TargetName)
	if target == nil {
		return errors.NewValueError("Recipe.Fit", "target column not found: "+r.TargetName)
	}

	dropped := make(map[string]bool, len(r.Dropped)+1)
	dropped[r.TargetName] = true
	for _, name := range r.Dropped {
		if !train.HasColumn(name) {
			return errors.NewValueError("Recipe.Fit", "dropped column not found: "+name)
		}
		dropped[name] = true
	}

	r.NumericCols = r.NumericCols[:0]
	r.CategoricalCols = r.CategoricalCols[:0]
	for _, name := range train.ColumnNames() {
		if dropped[name] {
			continue
		}
		if train.Column(name).Kind == dataset.Numeric {
			r.NumericCols = append(r.NumericCols, name)
		} else {
			r.CategoricalCols = append(r.CategoricalCols, name)
		}
	}
	if len(r.NumericCols)+len(r.CategoricalCols) == 0 {
		return errors.NewModelError("Recipe.Fit", "no feature columns", errors.ErrEmptyData)
	}

	// Target encoding for categorical labels.
	r.TargetCoder = nil
	if target.Kind == dataset.Categorical {
		r.TargetCoder = NewLabelEncoder()
		if err := r.TargetCoder.Fit(target.Strings); err != nil {
			return err
		}
	}

	// Numeric branch: impute then scale.
	r.Imputer, r.KNNImp, r.Scaler = nil, nil, nil
	if len(r.NumericCols) > 0 {
		X, _, err := train.NumericMatrix(r.NumericCols...)
		if err != nil {
			return err
		}

		var imputed mat.Matrix = X
		switch r.ImputeStrategy {
		case "":
		case "knn":
			r.KNNImp = NewKNNImputer(r.KNNNeighbors)
			imputed, err = r.KNNImp.FitTransform(X)
			if err != nil {
				return err
			}
		default:
			r.Imputer = NewSimpleImputer(r.ImputeStrategy)
			imputed, err = r.Imputer.FitTransform(X)
			if err != nil {
				return err
			}
		}

		if r.ScaleNumeric {
			r.Scaler = NewStandardScalerDefault()
			if err := r.Scaler.Fit(imputed); err != nil {
				return err
			}
		}
	}

	// Categorical branch: one-hot.
	r.Encoder = nil
	if len(r.CategoricalCols) > 0 {
		rows, err := train.CategoricalRows(r.CategoricalCols...)
		if err != nil {
			return err
		}
		r.Encoder = NewOneHotEncoder(
			WithDropFirst(r.EncodeDropFirst),
			WithHandleUnknown(r.EncodeHandleUnknown),
		)
		if err := r.Encoder.Fit(rows); err != nil {
			return err
		}
	}

	r.OutFeatures = append([]string(nil), r.NumericCols...)
	if r.Encoder != nil {
		encoded, err := r.Encoder.FeatureNames(r.CategoricalCols)
		if err != nil {
			return err
		}
		r.OutFeatures = append(r.OutFeatures, encoded...)
	}

	r.SetDimensions(len(r.OutFeatures), train.NumRows())
	r.SetFitted()
	return nil
}

// Transform applies the fitted steps to a table and returns the feature
// matrix. The table must contain every feature column seen at fit time;
// extra columns are ignored.
func (r *Recipe) Transform(tbl *dataset.Table) (*mat.Dense, error) {
	if err := r.RequireFitted("Recipe", "Transform"); err != nil {
		return nil, err
	}
	if tbl == nil || tbl.NumRows() == 0 {
		return nil, errors.NewModelError("Recipe.Transform", "empty data", errors.ErrEmptyData)
	}

	numeric, err := r.transformNumeric(tbl)
	if err != nil {
		return nil, err
	}
	encoded, err := r.transformCategorical(tbl)
	if err != nil {
		return nil, err
	}
	return hstack(tbl.NumRows(), numeric, encoded)
}

// TransformTarget extracts and encodes the target column as a vector.
func (r *Recipe) TransformTarget(tbl *dataset.Table) (*mat.VecDense, error) {
	if err := r.RequireFitted("Recipe", "TransformTarget"); err != nil {
		return nil, err
	}

	if r.TargetCoder == nil {
		return tbl.Target(r.TargetName)
	}
	col := tbl.Column(r.TargetName)
	if col == nil {
		return nil, errors.NewValueError("Recipe.TransformTarget", "target column not found: "+r.TargetName)
	}
	if col.Kind != dataset.Categorical {
		return nil, errors.NewValueError("Recipe.TransformTarget", "target column kind changed since fit")
	}
	codes, err := r.TargetCoder.Transform(col.Strings)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(len(codes), codes), nil
}

// TransformRow encodes a single observation given as column name to raw
// string value, the shape HTTP handlers and web forms produce. Missing
// numeric values ("" or absent keys) flow through the fitted imputer.
func (r *Recipe) TransformRow(values map[string]string) (*mat.Dense, error) {
	if err := r.RequireFitted("Recipe", "TransformRow"); err != nil {
		return nil, err
	}

	cols := make([]dataset.Column, 0, len(r.NumericCols)+len(r.CategoricalCols))
	for _, name := range r.NumericCols {
		raw := strings.TrimSpace(values[name])
		v := math.NaN()
		if raw != "" && raw != "NA" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, errors.NewValueError("Recipe.TransformRow",
					fmt.Sprintf("field %s: cannot parse %q as number", name, raw))
			}
			v = parsed
		}
		cols = append(cols, dataset.Column{Name: name, Kind: dataset.Numeric, Floats: []float64{v}})
	}
	for _, name := range r.CategoricalCols {
		cols = append(cols, dataset.Column{
			Name: name, Kind: dataset.Categorical,
			Strings: []string{strings.TrimSpace(values[name])},
		})
	}

	tbl, err := dataset.NewTable(cols...)
	if err != nil {
		return nil, err
	}
	return r.Transform(tbl)
}

// FeatureNames returns the output column names of Transform.
func (r *Recipe) FeatureNames() []string {
	return append([]string(nil), r.OutFeatures...)
}

// TargetClasses returns the label classes for categorical targets, in
// code order, or nil for numeric targets.
func (r *Recipe) TargetClasses() []string {
	if r.TargetCoder == nil {
		return nil
	}
	return append([]string(nil), r.TargetCoder.Classes...)
}

// PositiveLabel returns the label encoded as 1 for binary categorical
// targets, "" otherwise.
func (r *Recipe) PositiveLabel() string {
	classes := r.TargetClasses()
	if len(classes) != 2 {
		return ""
	}
	return classes[1]
}

// String summarizes the declared steps.
func (r *Recipe) String() string {
	steps := make([]string, 0, 4)
	if len(r.Dropped) > 0 {
		steps = append(steps, "drop")
	}
	if r.ImputeStrategy != "" {
		steps = append(steps, "impute:"+r.ImputeStrategy)
	}
	if r.ScaleNumeric {
		steps = append(steps, "normalize")
	}
	steps = append(steps, "onehot")
	return fmt.Sprintf("Recipe(target=%s, steps=[%s])", r.TargetName, strings.Join(steps, ", "))
}

func (r *Recipe) transformNumeric(tbl *dataset.Table) (mat.Matrix, error) {
	if len(r.NumericCols) == 0 {
		return nil, nil
	}

	X, _, err := tbl.NumericMatrix(r.NumericCols...)
	if err != nil {
		return nil, err
	}

	var out mat.Matrix = X
	if r.KNNImp != nil {
		out, err = r.KNNImp.Transform(out)
	} else if r.Imputer != nil {
		out, err = r.Imputer.Transform(out)
	}
	if err != nil {
		return nil, err
	}

	if r.Scaler != nil {
		out, err = r.Scaler.Transform(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Recipe) transformCategorical(tbl *dataset.Table) (mat.Matrix, error) {
	if r.Encoder == nil {
		return nil, nil
	}

	rows, err := tbl.CategoricalRows(r.CategoricalCols...)
	if err != nil {
		return nil, err
	}
	return r.Encoder.Transform(rows)
}

// hstack concatenates two optional blocks side by side into one matrix.
func hstack(nRows int, left, right mat.Matrix) (*mat.Dense, error) {
	width := 0
	if left != nil {
		_, c := left.Dims()
		width += c
	}
	if right != nil {
		_, c := right.Dims()
		width += c
	}
	if width == 0 {
		return nil, errors.NewModelError("Recipe.Transform", "no feature columns", errors.ErrEmptyData)
	}

	out := mat.NewDense(nRows, width, nil)
	offset := 0
	for _, block := range []mat.Matrix{left, right} {
		if block == nil {
			continue
		}
		br, bc := block.Dims()
		if br != nRows {
			return nil, errors.NewDimensionError("Recipe.Transform", nRows, br, 0)
		}
		for i := 0; i < br; i++ {
			for j := 0; j < bc; j++ {
				out.Set(i, offset+j, block.At(i, j))
			}
		}
		offset += bc
	}
	return out, nil
}
