package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnkit/churn"
	"github.com/YuminosukeSato/churnkit/dataset"
)

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	Model string
	Data  string
	JSON  bool
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a saved artifact against labeled data",
		Long: `Load a trained artifact and score it against a labeled churn CSV,
using the artifact's own preprocessing recipe. Use this to check a
model against data it was not trained on, for example a fresh month
of customers.

Example:
  churnkit evaluate --model churnkit.gob --data telco_march.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Model, "model", "", "trained artifact file (required)")
	_ = cmd.MarkFlagRequired("model")
	cmd.Flags().StringVar(&opts.Data, "data", "", "labeled churn CSV in the canonical schema (required)")
	_ = cmd.MarkFlagRequired("data")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the metrics as JSON")

	return cmd
}

func runEvaluate(cmd *cobra.Command, opts *EvaluateOptions) error {
	a, err := churn.LoadArtifact(opts.Model)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading artifact", err)
	}

	tbl, err := dataset.LoadCSV(opts.Data, dataset.WithKinds(churn.Kinds()))
	if err != nil {
		return WrapExitError(ExitCommandError, "loading data", err)
	}

	eval, err := churn.Evaluate(cmd.Context(), a, tbl)
	if err != nil {
		return WrapExitError(ExitFailure, "evaluation failed", err)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		return printJSON(out, eval)
	}

	fmt.Fprintf(out, "model %s (%s) on %s\n\n", a.Meta.ID, a.Meta.Algorithm, opts.Data)
	writeEvaluation(out, eval)
	return nil
}
