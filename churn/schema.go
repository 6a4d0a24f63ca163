package churn

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/YuminosukeSato/churnkit/dataset"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Column names with special roles in the workflow.
const (
	// IDColumn identifies the customer and never enters the feature matrix.
	IDColumn = "customerID"
	// TargetColumn is the label the workflow predicts.
	TargetColumn = "Churn"
)

// ColumnSpec describes one column of the canonical churn dataset.
// Levels lists the admissible values for categorical columns; it is
// nil for unbounded numeric columns.
type ColumnSpec struct {
	Name   string
	Kind   dataset.Kind
	Levels []string
}

// Schema returns the canonical column layout of the telco churn dataset,
// in file order. The slice is freshly allocated on every call.
func Schema() []ColumnSpec {
	return []ColumnSpec{
		{Name: IDColumn, Kind: dataset.Categorical},
		{Name: "gender", Kind: dataset.Categorical, Levels: []string{"Female", "Male"}},
		{Name: "SeniorCitizen", Kind: dataset.Numeric, Levels: []string{"0", "1"}},
		{Name: "Partner", Kind: dataset.Categorical, Levels: yesNo},
		{Name: "Dependents", Kind: dataset.Categorical, Levels: yesNo},
		{Name: "tenure", Kind: dataset.Numeric},
		{Name: "PhoneService", Kind: dataset.Categorical, Levels: yesNo},
		{Name: "MultipleLines", Kind: dataset.Categorical, Levels: []string{"No phone service", "No", "Yes"}},
		{Name: "InternetService", Kind: dataset.Categorical, Levels: []string{"DSL", "Fiber optic", "No"}},
		{Name: "OnlineSecurity", Kind: dataset.Categorical, Levels: internetDependent},
		{Name: "OnlineBackup", Kind: dataset.Categorical, Levels: internetDependent},
		{Name: "DeviceProtection", Kind: dataset.Categorical, Levels: internetDependent},
		{Name: "TechSupport", Kind: dataset.Categorical, Levels: internetDependent},
		{Name: "StreamingTV", Kind: dataset.Categorical, Levels: internetDependent},
		{Name: "StreamingMovies", Kind: dataset.Categorical, Levels: internetDependent},
		{Name: "Contract", Kind: dataset.Categorical, Levels: []string{"Month-to-month", "One year", "Two year"}},
		{Name: "PaperlessBilling", Kind: dataset.Categorical, Levels: yesNo},
		{Name: "PaymentMethod", Kind: dataset.Categorical, Levels: []string{
			"Electronic check", "Mailed check", "Bank transfer (automatic)", "Credit card (automatic)",
		}},
		{Name: "MonthlyCharges", Kind: dataset.Numeric},
		{Name: "TotalCharges", Kind: dataset.Numeric},
		{Name: TargetColumn, Kind: dataset.Categorical, Levels: []string{"No", "Yes"}},
	}
}

var (
	yesNo             = []string{"Yes", "No"}
	internetDependent = []string{"No internet service", "No", "Yes"}
)

// InputFields returns the schema columns a caller must supply when
// scoring a single customer: everything except the identifier and
// the target.
func InputFields() []ColumnSpec {
	specs := Schema()
	fields := make([]ColumnSpec, 0, len(specs)-2)
	for _, spec := range specs {
		if spec.Name == IDColumn || spec.Name == TargetColumn {
			continue
		}
		fields = append(fields, spec)
	}
	return fields
}

// Kinds returns the column kind map used to force the CSV reader onto
// the canonical schema instead of inferring kinds per file.
func Kinds() map[string]dataset.Kind {
	kinds := make(map[string]dataset.Kind)
	for _, spec := range Schema() {
		kinds[spec.Name] = spec.Kind
	}
	return kinds
}

// ValidateTable checks that a loaded table carries every schema column
// with the expected kind. Extra columns are tolerated; the recipe
// ignores them.
func ValidateTable(tbl *dataset.Table) error {
	if tbl == nil || tbl.NumRows() == 0 {
		return kiterrors.Wrap(kiterrors.ErrEmptyData, "ValidateTable")
	}
	for _, spec := range Schema() {
		col := tbl.Column(spec.Name)
		if col == nil {
			return kiterrors.NewValueError("ValidateTable", "missing column: "+spec.Name)
		}
		if col.Kind != spec.Kind {
			return kiterrors.NewValueError("ValidateTable",
				fmt.Sprintf("column %s is %s, want %s", spec.Name, col.Kind, spec.Kind))
		}
	}
	return nil
}

// CustomerInput is one customer to score, as received from the REST
// API, the web form, or the CLI. Numeric fields are pointers so that
// an absent field can be told apart from a zero. TotalCharges may be
// omitted; the fitted recipe imputes it like any other missing cell.
type CustomerInput struct {
	Gender           string   `json:"gender" validate:"required,oneof=Female Male"`
	SeniorCitizen    *int     `json:"SeniorCitizen" validate:"required,oneof=0 1"`
	Partner          string   `json:"Partner" validate:"required,oneof=Yes No"`
	Dependents       string   `json:"Dependents" validate:"required,oneof=Yes No"`
	Tenure           *float64 `json:"tenure" validate:"required,gte=0"`
	PhoneService     string   `json:"PhoneService" validate:"required,oneof=Yes No"`
	MultipleLines    string   `json:"MultipleLines" validate:"required,oneof='No phone service' Yes No"`
	InternetService  string   `json:"InternetService" validate:"required,oneof=DSL 'Fiber optic' No"`
	OnlineSecurity   string   `json:"OnlineSecurity" validate:"required,oneof='No internet service' Yes No"`
	OnlineBackup     string   `json:"OnlineBackup" validate:"required,oneof='No internet service' Yes No"`
	DeviceProtection string   `json:"DeviceProtection" validate:"required,oneof='No internet service' Yes No"`
	TechSupport      string   `json:"TechSupport" validate:"required,oneof='No internet service' Yes No"`
	StreamingTV      string   `json:"StreamingTV" validate:"required,oneof='No internet service' Yes No"`
	StreamingMovies  string   `json:"StreamingMovies" validate:"required,oneof='No internet service' Yes No"`
	Contract         string   `json:"Contract" validate:"required,oneof=Month-to-month 'One year' 'Two year'"`
	PaperlessBilling string   `json:"PaperlessBilling" validate:"required,oneof=Yes No"`
	PaymentMethod    string   `json:"PaymentMethod" validate:"required,oneof='Electronic check' 'Mailed check' 'Bank transfer (automatic)' 'Credit card (automatic)'"`
	MonthlyCharges   *float64 `json:"MonthlyCharges" validate:"required,gte=0"`
	TotalCharges     *float64 `json:"TotalCharges" validate:"omitempty,gte=0"`
}

// validate is shared across goroutines; the instance caches struct
// metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report errors under the JSON name, which is also the dataset
	// column name, so API consumers see the field they actually sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the input against the schema's admissible values.
// The returned error unwraps to a validator.ValidationErrors; use
// FieldErrors to turn it into per-field messages.
func (c *CustomerInput) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}

// FieldErrors flattens a Validate error into column name to message
// pairs. It returns nil when err carries no field-level detail.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

// Fields converts the input into the raw column-name to cell-text map
// a fitted recipe scores from. Absent optional numerics become empty
// cells and flow through imputation.
func (c *CustomerInput) Fields() map[string]string {
	m := map[string]string{
		"gender":           c.Gender,
		"Partner":          c.Partner,
		"Dependents":       c.Dependents,
		"PhoneService":     c.PhoneService,
		"MultipleLines":    c.MultipleLines,
		"InternetService":  c.InternetService,
		"OnlineSecurity":   c.OnlineSecurity,
		"OnlineBackup":     c.OnlineBackup,
		"DeviceProtection": c.DeviceProtection,
		"TechSupport":      c.TechSupport,
		"StreamingTV":      c.StreamingTV,
		"StreamingMovies":  c.StreamingMovies,
		"Contract":         c.Contract,
		"PaperlessBilling": c.PaperlessBilling,
		"PaymentMethod":    c.PaymentMethod,
	}
	m["SeniorCitizen"] = formatInt(c.SeniorCitizen)
	m["tenure"] = formatFloat(c.Tenure)
	m["MonthlyCharges"] = formatFloat(c.MonthlyCharges)
	m["TotalCharges"] = formatFloat(c.TotalCharges)
	return m
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// InputFromFields builds a CustomerInput from raw text fields, the
// shape produced by the web form and the CLI's key=value flags. Text
// is trimmed; empty numerics stay nil so Validate can report them as
// missing rather than malformed. Unknown field names are rejected.
func InputFromFields(fields map[string]string) (*CustomerInput, error) {
	known := make(map[string]bool, len(fields))
	for _, spec := range InputFields() {
		known[spec.Name] = true
	}
	for name := range fields {
		if !known[name] {
			return nil, kiterrors.NewValidationError(name, "is not a schema field", fields[name])
		}
	}

	get := func(name string) string { return strings.TrimSpace(fields[name]) }

	in := &CustomerInput{
		Gender:           get("gender"),
		Partner:          get("Partner"),
		Dependents:       get("Dependents"),
		PhoneService:     get("PhoneService"),
		MultipleLines:    get("MultipleLines"),
		InternetService:  get("InternetService"),
		OnlineSecurity:   get("OnlineSecurity"),
		OnlineBackup:     get("OnlineBackup"),
		DeviceProtection: get("DeviceProtection"),
		TechSupport:      get("TechSupport"),
		StreamingTV:      get("StreamingTV"),
		StreamingMovies:  get("StreamingMovies"),
		Contract:         get("Contract"),
		PaperlessBilling: get("PaperlessBilling"),
		PaymentMethod:    get("PaymentMethod"),
	}

	var err error
	if in.SeniorCitizen, err = parseIntField("SeniorCitizen", get("SeniorCitizen")); err != nil {
		return nil, err
	}
	if in.Tenure, err = parseFloatField("tenure", get("tenure")); err != nil {
		return nil, err
	}
	if in.MonthlyCharges, err = parseFloatField("MonthlyCharges", get("MonthlyCharges")); err != nil {
		return nil, err
	}
	if in.TotalCharges, err = parseFloatField("TotalCharges", get("TotalCharges")); err != nil {
		return nil, err
	}
	return in, nil
}

func parseIntField(name, text string) (*int, error) {
	if text == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return nil, kiterrors.NewValidationError(name, "must be an integer", text)
	}
	return &v, nil
}

func parseFloatField(name, text string) (*float64, error) {
	if text == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, kiterrors.NewValidationError(name, "must be a number", text)
	}
	return &v, nil
}
