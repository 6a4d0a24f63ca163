package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnkit/churn"
)

// TrainOptions holds flags for the train command.
type TrainOptions struct {
	*RootOptions
	Data      string
	Algorithm string
	Params    []string
	TestSize  float64
	Seed      int64
	Resample  string
	PlotDir   string
	Out       string
	JSON      bool
}

// NewTrainCommand creates the train command.
func NewTrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a churn classifier and save the artifact",
		Long: `Train a classifier on a labeled churn CSV in the canonical telco
schema. The data is split into stratified training and test sets, the
preprocessing recipe and the model are fit on the training rows, and
the held-out metrics are printed. The fitted recipe, model and
provenance are saved together as one artifact file.

Example:
  churnkit train --data telco.csv --algorithm forest --out churnkit.gob
  churnkit train --data telco.csv --algorithm knn --param n_neighbors=15 --resample up`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "labeled churn CSV in the canonical schema (required)")
	_ = cmd.MarkFlagRequired("data")
	cmd.Flags().StringVar(&opts.Algorithm, "algorithm", churn.AlgorithmLogReg, "estimator ("+strings.Join(churn.Algorithms(), "|")+")")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "hyperparameter override as name=value (repeatable)")
	cmd.Flags().Float64Var(&opts.TestSize, "test-size", 0.25, "held-out fraction of rows")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 42, "random seed for the split, resampling and estimator")
	cmd.Flags().StringVar(&opts.Resample, "resample", churn.ResampleNone, "rebalance the training split (none|up|down)")
	cmd.Flags().StringVar(&opts.PlotDir, "plots", "", "directory for roc.png and pr.png (omit to skip plots)")
	cmd.Flags().StringVar(&opts.Out, "out", "churnkit.gob", "artifact output path")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the artifact metadata as JSON")

	return cmd
}

func runTrain(cmd *cobra.Command, opts *TrainOptions) error {
	params, err := parseKeyValues("param", opts.Params)
	if err != nil {
		return err
	}

	a, err := churn.Train(cmd.Context(), churn.TrainConfig{
		DataPath:   opts.Data,
		Algorithm:  opts.Algorithm,
		Params:     params,
		TestSize:   opts.TestSize,
		Seed:       opts.Seed,
		Resampling: opts.Resample,
		PlotDir:    opts.PlotDir,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "training failed", err)
	}
	if err := a.Save(opts.Out); err != nil {
		return WrapExitError(ExitCommandError, "saving artifact", err)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		return printJSON(out, a.Meta)
	}

	writeMetadata(out, &a.Meta)
	fmt.Fprintln(out)
	writeEvaluation(out, a.Meta.Metrics)
	fmt.Fprintf(out, "\nartifact written to %s\n", opts.Out)
	if opts.PlotDir != "" {
		fmt.Fprintf(out, "plots written to %s\n", opts.PlotDir)
	}
	return nil
}
