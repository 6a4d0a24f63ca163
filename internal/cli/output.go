package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"

	"github.com/YuminosukeSato/churnkit/churn"
	"github.com/YuminosukeSato/churnkit/model_selection"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // successful execution
	ExitFailure      = 1 // workflow failure (training, evaluation, prediction)
	ExitCommandError = 2 // command error (bad flags, unreadable files)
)

// ExitError carries a specific exit code out of a command. main turns
// it into the process exit status.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors without an
// ExitError in their chain map to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printJSON writes v as indented JSON, for the --json output mode.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeEvaluation renders the metrics table the course prints after
// every fit: one row per metric, then the confusion matrix with the
// positive class first.
func writeEvaluation(w io.Writer, eval *churn.Evaluation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "accuracy\t%.4f\n", eval.Accuracy)
	fmt.Fprintf(tw, "precision\t%.4f\n", eval.Precision)
	fmt.Fprintf(tw, "recall\t%.4f\n", eval.Recall)
	fmt.Fprintf(tw, "f1\t%.4f\n", eval.F1)
	fmt.Fprintf(tw, "log_loss\t%.4f\n", eval.LogLoss)
	fmt.Fprintf(tw, "roc_auc\t%.4f\n", eval.AUROC)
	fmt.Fprintf(tw, "pr_auc\t%.4f\n", eval.AUPRC)
	fmt.Fprintf(tw, "test_rows\t%d\n", eval.NTest)
	tw.Flush()

	cm := eval.Confusion
	fmt.Fprintf(w, "\nconfusion matrix (positive = churn)\n")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\tpred yes\tpred no\n")
	fmt.Fprintf(tw, "actual yes\t%d\t%d\n", cm.TP, cm.FN)
	fmt.Fprintf(tw, "actual no\t%d\t%d\n", cm.FP, cm.TN)
	tw.Flush()
}

// writeMetadata renders the provenance block of a trained artifact.
func writeMetadata(w io.Writer, meta *churn.Metadata) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "artifact\t%s\n", meta.ID)
	fmt.Fprintf(tw, "algorithm\t%s\n", meta.Algorithm)
	fmt.Fprintf(tw, "trained\t%s\n", meta.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "rows\t%d\n", meta.NRows)
	fmt.Fprintf(tw, "features\t%d\n", meta.NFeatures)
	fmt.Fprintf(tw, "base_rate\t%.4f\n", meta.BaseRate)
	if meta.Resampling != "" && meta.Resampling != churn.ResampleNone {
		fmt.Fprintf(tw, "resampling\t%s\n", meta.Resampling)
	}
	if meta.CVMetric != "" {
		fmt.Fprintf(tw, "cv_metric\t%s\n", meta.CVMetric)
		fmt.Fprintf(tw, "cv_score\t%.4f\n", meta.CVScore)
	}
	if len(meta.Hyperparams) > 0 {
		fmt.Fprintf(tw, "hyperparams\t%s\n", formatPairs(meta.Hyperparams))
	}
	tw.Flush()
}

// writeCandidates renders the cross-validation ranking, best first.
func writeCandidates(w io.Writer, metric string, candidates []model_selection.CandidateResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "rank\tmean %s\tstd\tparams\n", metric)
	for i, c := range candidates {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%s\n", i+1, c.MeanScore, c.StdScore, formatParamSet(c.Params))
	}
	tw.Flush()
}

func formatPairs(pairs map[string]string) string {
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+pairs[key])
	}
	return strings.Join(parts, " ")
}

func formatParamSet(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, params[key]))
	}
	return strings.Join(parts, " ")
}

// parseKeyValues turns repeated name=value flag values into a map.
// flag names the flag in error messages.
func parseKeyValues(flag string, specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	pairs := make(map[string]string, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError,
				fmt.Sprintf("--%s %q is not in name=value form", flag, spec))
		}
		pairs[name] = strings.TrimSpace(value)
	}
	return pairs, nil
}
