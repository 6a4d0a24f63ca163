package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

var defaultMissingTokens = []string{"", "NA"}

type csvOptions struct {
	comma         rune
	missingTokens []string
	kinds         map[string]Kind
}

// CSVOption configures CSV reading.
type CSVOption func(*csvOptions)

// WithComma sets the field delimiter (default ',').
func WithComma(r rune) CSVOption {
	return func(o *csvOptions) { o.comma = r }
}

// WithMissingTokens replaces the set of cell values treated as missing.
// The default is {"", "NA"}; matching is exact after trimming spaces.
func WithMissingTokens(tokens ...string) CSVOption {
	return func(o *csvOptions) { o.missingTokens = tokens }
}

// WithKinds forces the kind of specific columns, overriding inference.
// Useful for numeric-looking identifiers that should stay categorical.
func WithKinds(kinds map[string]Kind) CSVOption {
	return func(o *csvOptions) { o.kinds = kinds }
}

// ReadCSV parses a headered CSV stream into a Table.
//
// Column kinds are inferred: a column where every non-missing cell parses
// as a float becomes Numeric, anything else Categorical. Missing tokens
// become NaN in numeric columns and "" in categorical ones, so a blank
// TotalCharges cell survives loading and is handled at imputation time
// rather than silently dropped.
func ReadCSV(r io.Reader, opts ...CSVOption) (*Table, error) {
	o := csvOptions{comma: ',', missingTokens: defaultMissingTokens}
	for _, opt := range opts {
		opt(&o)
	}

	cr := csv.NewReader(r)
	cr.Comma = o.comma
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, kiterrors.Wrap(kiterrors.ErrEmptyData, "ReadCSV: empty input")
	}
	if err != nil {
		return nil, kiterrors.Wrap(err, "ReadCSV: reading header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, kiterrors.Wrap(err, "ReadCSV: reading rows")
	}

	missing := make(map[string]bool, len(o.missingTokens))
	for _, tok := range o.missingTokens {
		missing[tok] = true
	}

	nRows := len(records)
	cols := make([]Column, len(header))
	for j, name := range header {
		kind, forced := o.kinds[name]
		if !forced {
			kind = inferKind(records, j, missing)
		}

		col := Column{Name: name, Kind: kind}
		if kind == Numeric {
			col.Floats = make([]float64, nRows)
			for i, rec := range records {
				cell := strings.TrimSpace(rec[j])
				if missing[cell] {
					col.Floats[i] = math.NaN()
					continue
				}
				v, perr := strconv.ParseFloat(cell, 64)
				if perr != nil {
					return nil, kiterrors.NewValueError("ReadCSV",
						"column "+name+" row "+itoa(i+2)+": cannot parse "+strconv.Quote(cell)+" as number")
				}
				col.Floats[i] = v
			}
		} else {
			col.Strings = make([]string, nRows)
			for i, rec := range records {
				cell := strings.TrimSpace(rec[j])
				if missing[cell] {
					cell = ""
				}
				col.Strings[i] = cell
			}
		}
		cols[j] = col
	}

	return NewTable(cols...)
}

// LoadCSV reads a CSV file from disk into a Table.
func LoadCSV(path string, opts ...CSVOption) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kiterrors.Wrapf(err, "LoadCSV: opening %s", path)
	}
	defer func() { _ = f.Close() }()

	t, err := ReadCSV(f, opts...)
	if err != nil {
		return nil, kiterrors.Wrapf(err, "LoadCSV: %s", path)
	}
	return t, nil
}

// ScanCSV streams a headered CSV in fixed-size row chunks without holding
// the whole file in memory. The callback receives the header once per call
// together with up to chunkSize raw records; returning an error stops the
// scan. Intended for datasets too large for ReadCSV, such as the
// transaction-level fraud data.
func ScanCSV(r io.Reader, chunkSize int, fn func(header []string, rows [][]string) error) error {
	if chunkSize <= 0 {
		return kiterrors.NewValueError("ScanCSV", "chunkSize must be positive")
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return kiterrors.Wrap(kiterrors.ErrEmptyData, "ScanCSV: empty input")
	}
	if err != nil {
		return kiterrors.Wrap(err, "ScanCSV: reading header")
	}

	chunk := make([][]string, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(header, chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return kiterrors.Wrap(err, "ScanCSV: reading row")
		}
		row := make([]string, len(rec))
		copy(row, rec)
		chunk = append(chunk, row)
		if len(chunk) == chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// inferKind decides Numeric vs Categorical for column j by scanning cells.
// A column with no observed cells stays categorical.
func inferKind(records [][]string, j int, missing map[string]bool) Kind {
	observed := false
	for _, rec := range records {
		cell := strings.TrimSpace(rec[j])
		if missing[cell] {
			continue
		}
		observed = true
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return Categorical
		}
	}
	if !observed {
		return Categorical
	}
	return Numeric
}

func itoa(i int) string { return strconv.Itoa(i) }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
