package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnkit/churn"
	"github.com/YuminosukeSato/churnkit/pkg/log"
)

// PredictOptions holds flags for the predict command.
type PredictOptions struct {
	*RootOptions
	Model string
	Input string
	Set   []string
	JSON  bool
}

// NewPredictCommand creates the predict command.
func NewPredictCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PredictOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score one customer with a saved artifact",
		Long: `Score a single customer record against a trained artifact. The
record comes from a JSON file (--input, "-" for stdin) or from
repeated --set field=value flags; --set values override fields read
from the file. Field names match the CSV columns.

Example:
  churnkit predict --model churnkit.gob --input customer.json
  churnkit predict --model churnkit.gob \
    --set Contract=Month-to-month --set InternetService="Fiber optic" \
    --set tenure=3 --set MonthlyCharges=85.5 ...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Model, "model", "", "trained artifact file (required)")
	_ = cmd.MarkFlagRequired("model")
	cmd.Flags().StringVar(&opts.Input, "input", "", `customer record as JSON ("-" reads stdin)`)
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "customer field as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the prediction as JSON")

	return cmd
}

func runPredict(cmd *cobra.Command, opts *PredictOptions) error {
	if opts.Input == "" && len(opts.Set) == 0 {
		return NewExitError(ExitCommandError, "nothing to score: pass --input or --set")
	}

	a, err := churn.LoadArtifact(opts.Model)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading artifact", err)
	}

	in, err := readCustomer(cmd, opts)
	if err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return NewExitError(ExitFailure, validationMessage(err))
	}

	p, err := churn.PredictRow(a, in)
	if err != nil {
		return WrapExitError(ExitFailure, "prediction failed", err)
	}

	logger := log.Component("cli")
	logger.Info().
		Str(log.SourceKey, "cli").
		Str(log.ArtifactIDKey, a.Meta.ID).
		Str("prediction.label", p.Label).
		Float64("prediction.probability", p.Probability).
		Msg("prediction served")

	out := cmd.OutOrStdout()
	if opts.JSON {
		return printJSON(out, p)
	}
	fmt.Fprintf(out, "%s: %.1f%% churn probability (model %s)\n",
		p.Label, p.Probability*100, p.ModelID)
	return nil
}

// readCustomer assembles the record to score from the input file and
// the --set overrides, funnelling both through the schema's field
// parser so errors name the offending column.
func readCustomer(cmd *cobra.Command, opts *PredictOptions) (*churn.CustomerInput, error) {
	fields := map[string]string{}

	if opts.Input != "" {
		raw, err := readInputFile(cmd, opts.Input)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "reading input", err)
		}
		var in churn.CustomerInput
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			return nil, WrapExitError(ExitCommandError, "parsing input: not a valid customer record", err)
		}
		fields = in.Fields()
	}

	sets, err := parseKeyValues("set", opts.Set)
	if err != nil {
		return nil, err
	}
	for name, value := range sets {
		fields[name] = value
	}

	in, err := churn.InputFromFields(fields)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "reading customer fields", err)
	}
	return in, nil
}

func readInputFile(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// validationMessage flattens field validation failures into one line,
// fields in stable order.
func validationMessage(err error) string {
	fields := churn.FieldErrors(err)
	if len(fields) == 0 {
		return "customer record failed validation"
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+fields[name])
	}
	return "customer record failed validation: " + strings.Join(parts, "; ")
}
