// Package dataset provides column-oriented tabular data loading and
// inspection for churn modeling workflows.
//
// A Table holds named columns that are either numeric (float64 values with
// NaN marking missing cells) or categorical (string values with "" marking
// missing cells). Tables are the input to preprocessing recipes, which turn
// them into the dense matrices the estimators consume.
package dataset

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Kind distinguishes numeric from categorical columns.
type Kind int

const (
	// Numeric columns hold float64 values; missing cells are NaN.
	Numeric Kind = iota
	// Categorical columns hold string values; missing cells are "".
	Categorical
)

// String returns "numeric" or "categorical".
func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// Column is a single named column of a Table.
// Exactly one of Floats or Strings is populated, according to Kind.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Floats)
	}
	return len(c.Strings)
}

// Missing returns the number of missing cells in the column.
func (c *Column) Missing() int {
	n := 0
	if c.Kind == Numeric {
		for _, v := range c.Floats {
			if math.IsNaN(v) {
				n++
			}
		}
		return n
	}
	for _, v := range c.Strings {
		if v == "" {
			n++
		}
	}
	return n
}

// Table is an immutable-by-convention collection of equally sized columns.
type Table struct {
	cols   []Column
	byName map[string]int
	nRows  int
}

// NewTable builds a Table from columns, validating that names are unique
// and all columns have the same length.
func NewTable(cols ...Column) (*Table, error) {
	if len(cols) == 0 {
		return nil, kiterrors.Wrap(kiterrors.ErrEmptyData, "NewTable: no columns")
	}

	nRows := cols[0].Len()
	byName := make(map[string]int, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return nil, kiterrors.NewValueError("NewTable", "column name must not be empty")
		}
		if _, dup := byName[c.Name]; dup {
			return nil, kiterrors.NewValueError("NewTable", "duplicate column name: "+c.Name)
		}
		if c.Len() != nRows {
			return nil, kiterrors.NewDimensionError("NewTable", nRows, c.Len(), 0)
		}
		byName[c.Name] = i
	}

	return &Table{cols: cols, byName: byName, nRows: nRows}, nil
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.nRows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, or nil if it does not exist.
func (t *Table) Column(name string) *Column {
	idx, ok := t.byName[name]
	if !ok {
		return nil
	}
	return &t.cols[idx]
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Select returns a new Table containing only the named columns, in the
// given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]Column, 0, len(names))
	for _, name := range names {
		idx, ok := t.byName[name]
		if !ok {
			return nil, kiterrors.NewValueError("Select", "unknown column: "+name)
		}
		cols = append(cols, t.cols[idx])
	}
	return NewTable(cols...)
}

// Drop returns a new Table without the named columns.
func (t *Table) Drop(names ...string) (*Table, error) {
	dropped := make(map[string]bool, len(names))
	for _, name := range names {
		if !t.HasColumn(name) {
			return nil, kiterrors.NewValueError("Drop", "unknown column: "+name)
		}
		dropped[name] = true
	}

	cols := make([]Column, 0, len(t.cols))
	for _, c := range t.cols {
		if !dropped[c.Name] {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil, kiterrors.Wrap(kiterrors.ErrEmptyData, "Drop: all columns dropped")
	}
	return NewTable(cols...)
}

// Subset returns a new Table containing only the given rows, in order.
// Row indices may repeat, which resampling relies on.
func (t *Table) Subset(rows []int) (*Table, error) {
	for _, r := range rows {
		if r < 0 || r >= t.nRows {
			return nil, kiterrors.NewValueError("Subset", "row index out of range")
		}
	}

	cols := make([]Column, len(t.cols))
	for i, c := range t.cols {
		nc := Column{Name: c.Name, Kind: c.Kind}
		if c.Kind == Numeric {
			nc.Floats = make([]float64, len(rows))
			for j, r := range rows {
				nc.Floats[j] = c.Floats[r]
			}
		} else {
			nc.Strings = make([]string, len(rows))
			for j, r := range rows {
				nc.Strings[j] = c.Strings[r]
			}
		}
		cols[i] = nc
	}
	return NewTable(cols...)
}

// NumericMatrix assembles the named numeric columns (all numeric columns
// when names is empty) into a dense matrix, preserving NaN cells.
func (t *Table) NumericMatrix(names ...string) (*mat.Dense, []string, error) {
	if t.nRows == 0 {
		return nil, nil, kiterrors.Wrap(kiterrors.ErrEmptyData, "NumericMatrix: table has no rows")
	}
	if len(names) == 0 {
		for _, c := range t.cols {
			if c.Kind == Numeric {
				names = append(names, c.Name)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil, kiterrors.Wrap(kiterrors.ErrEmptyData, "NumericMatrix: no numeric columns")
	}

	out := mat.NewDense(t.nRows, len(names), nil)
	for j, name := range names {
		col := t.Column(name)
		if col == nil {
			return nil, nil, kiterrors.NewValueError("NumericMatrix", "unknown column: "+name)
		}
		if col.Kind != Numeric {
			return nil, nil, kiterrors.NewValueError("NumericMatrix", "column is not numeric: "+name)
		}
		for i, v := range col.Floats {
			out.Set(i, j, v)
		}
	}
	return out, names, nil
}

// Target extracts the named numeric column as a vector. Missing cells are
// rejected: a training target must be fully observed.
func (t *Table) Target(name string) (*mat.VecDense, error) {
	col := t.Column(name)
	if col == nil {
		return nil, kiterrors.NewValueError("Target", "unknown column: "+name)
	}
	if col.Kind != Numeric {
		return nil, kiterrors.NewValueError("Target", "target column is not numeric: "+name)
	}
	for i, v := range col.Floats {
		if math.IsNaN(v) {
			return nil, kiterrors.NewValueError("Target", "missing value in target at row "+itoa(i))
		}
	}
	vec := mat.NewVecDense(len(col.Floats), nil)
	for i, v := range col.Floats {
		vec.SetVec(i, v)
	}
	return vec, nil
}

// CategoricalRows returns the named categorical columns as row-major
// string records, the shape one-hot encoders consume.
func (t *Table) CategoricalRows(names ...string) ([][]string, error) {
	if len(names) == 0 {
		for _, c := range t.cols {
			if c.Kind == Categorical {
				names = append(names, c.Name)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	cols := make([]*Column, len(names))
	for j, name := range names {
		col := t.Column(name)
		if col == nil {
			return nil, kiterrors.NewValueError("CategoricalRows", "unknown column: "+name)
		}
		if col.Kind != Categorical {
			return nil, kiterrors.NewValueError("CategoricalRows", "column is not categorical: "+name)
		}
		cols[j] = col
	}

	rows := make([][]string, t.nRows)
	for i := 0; i < t.nRows; i++ {
		row := make([]string, len(names))
		for j := range names {
			row[j] = cols[j].Strings[i]
		}
		rows[i] = row
	}
	return rows, nil
}

// ColumnSummary holds per-column inspection statistics.
type ColumnSummary struct {
	Name    string
	Kind    Kind
	Count   int // non-missing cells
	Missing int

	// Numeric statistics (NaN when Count == 0)
	Mean   float64
	Std    float64
	Min    float64
	Q25    float64
	Median float64
	Q75    float64
	Max    float64

	// Categorical statistics
	Cardinality int
	Top         string
	TopCount    int
}

// Describe computes summary statistics for every column, the programmatic
// equivalent of a first-look data inspection.
func Describe(t *Table) []ColumnSummary {
	out := make([]ColumnSummary, 0, t.NumCols())
	for i := range t.cols {
		c := &t.cols[i]
		s := ColumnSummary{Name: c.Name, Kind: c.Kind, Missing: c.Missing()}
		s.Count = c.Len() - s.Missing

		if c.Kind == Numeric {
			observed := make([]float64, 0, s.Count)
			for _, v := range c.Floats {
				if !math.IsNaN(v) {
					observed = append(observed, v)
				}
			}
			if len(observed) == 0 {
				s.Mean, s.Std = math.NaN(), math.NaN()
				s.Min, s.Q25, s.Median, s.Q75, s.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()
			} else {
				s.Mean = stat.Mean(observed, nil)
				s.Std = math.Sqrt(stat.Variance(observed, nil))
				sort.Float64s(observed)
				s.Min = observed[0]
				s.Max = observed[len(observed)-1]
				s.Q25 = quantile(observed, 0.25)
				s.Median = quantile(observed, 0.5)
				s.Q75 = quantile(observed, 0.75)
			}
		} else {
			counts := make(map[string]int)
			for _, v := range c.Strings {
				if v != "" {
					counts[v]++
				}
			}
			s.Cardinality = len(counts)
			for level, n := range counts {
				if n > s.TopCount || (n == s.TopCount && level < s.Top) {
					s.Top, s.TopCount = level, n
				}
			}
		}
		out = append(out, s)
	}
	return out
}

// ClassBalance counts label occurrences in the named column. Works for
// both categorical targets ("Yes"/"No") and already-encoded numeric ones.
func ClassBalance(t *Table, target string) (map[string]int, error) {
	col := t.Column(target)
	if col == nil {
		return nil, kiterrors.NewValueError("ClassBalance", "unknown column: "+target)
	}

	counts := make(map[string]int)
	if col.Kind == Categorical {
		for _, v := range col.Strings {
			if v != "" {
				counts[v]++
			}
		}
		return counts, nil
	}
	for _, v := range col.Floats {
		if !math.IsNaN(v) {
			counts[formatFloat(v)]++
		}
	}
	return counts, nil
}

// quantile computes the p-quantile of sorted xs with linear interpolation
// between order statistics (R default, type 7).
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}
