package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnkit/churn"
)

const churnerJSON = `{
	"gender": "Female",
	"SeniorCitizen": 0,
	"Partner": "No",
	"Dependents": "No",
	"tenure": 3,
	"PhoneService": "Yes",
	"MultipleLines": "No",
	"InternetService": "Fiber optic",
	"OnlineSecurity": "No",
	"OnlineBackup": "No",
	"DeviceProtection": "No",
	"TechSupport": "No",
	"StreamingTV": "Yes",
	"StreamingMovies": "Yes",
	"Contract": "Month-to-month",
	"PaperlessBilling": "Yes",
	"PaymentMethod": "Electronic check",
	"MonthlyCharges": 85.5,
	"TotalCharges": 256.5
}`

// trainArtifact runs the train command against the tiny fixture and
// returns the saved artifact path.
func trainArtifact(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "churn.gob")
	_, err := runCommand(t, "train", "--data", testDataPath(), "--out", out, "--seed", "42")
	require.NoError(t, err)
	return out
}

func TestTrainCommand(t *testing.T) {
	t.Run("Trains and reports metrics", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "churn.gob")
		output, err := runCommand(t, "train",
			"--data", testDataPath(),
			"--out", out,
			"--seed", "42",
		)
		require.NoError(t, err)

		assert.Contains(t, output, "logreg")
		assert.Contains(t, output, "accuracy")
		assert.Contains(t, output, "confusion matrix")
		assert.Contains(t, output, "artifact written to "+out)

		a, err := churn.LoadArtifact(out)
		require.NoError(t, err)
		assert.Equal(t, churn.AlgorithmLogReg, a.Meta.Algorithm)
		assert.True(t, a.Model.IsFitted())
	})

	t.Run("JSON output is the artifact metadata", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "churn.gob")
		output, err := runCommand(t, "train",
			"--data", testDataPath(),
			"--out", out,
			"--seed", "42",
			"--json",
		)
		require.NoError(t, err)

		var meta churn.Metadata
		require.NoError(t, json.Unmarshal([]byte(output), &meta))
		assert.NotEmpty(t, meta.ID)
		assert.Equal(t, churn.AlgorithmLogReg, meta.Algorithm)
		require.NotNil(t, meta.Metrics)
		assert.GreaterOrEqual(t, meta.Metrics.Accuracy, 0.6)
	})

	t.Run("Requires the data flag", func(t *testing.T) {
		_, err := runCommand(t, "train")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"data"`)
	})

	t.Run("Rejects malformed params", func(t *testing.T) {
		_, err := runCommand(t, "train",
			"--data", testDataPath(),
			"--param", "just-a-name",
		)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "name=value")
	})

	t.Run("Unknown algorithm fails the run", func(t *testing.T) {
		_, err := runCommand(t, "train",
			"--data", testDataPath(),
			"--algorithm", "boost",
		)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "boost")
	})
}

func TestEvaluateCommand(t *testing.T) {
	t.Run("Scores an artifact against labeled data", func(t *testing.T) {
		model := trainArtifact(t)
		output, err := runCommand(t, "evaluate",
			"--model", model,
			"--data", testDataPath(),
		)
		require.NoError(t, err)
		assert.Contains(t, output, "model ")
		assert.Contains(t, output, "accuracy")
		assert.Contains(t, output, "confusion matrix")
	})

	t.Run("JSON output is the metrics", func(t *testing.T) {
		model := trainArtifact(t)
		output, err := runCommand(t, "evaluate",
			"--model", model,
			"--data", testDataPath(),
			"--json",
		)
		require.NoError(t, err)

		var eval churn.Evaluation
		require.NoError(t, json.Unmarshal([]byte(output), &eval))
		assert.GreaterOrEqual(t, eval.Accuracy, 0.6)
		assert.Equal(t, 60, eval.NTest, "every row of the file is scored")
	})

	t.Run("Missing artifact file", func(t *testing.T) {
		_, err := runCommand(t, "evaluate",
			"--model", filepath.Join(t.TempDir(), "absent.gob"),
			"--data", testDataPath(),
		)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "loading artifact")
	})
}

func TestTuneCommand(t *testing.T) {
	t.Run("Ranks every candidate", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "churn.gob")
		output, err := runCommand(t, "tune",
			"--data", testDataPath(),
			"--algorithm", "tree",
			"--grid", "max_depth=2,-1",
			"--metric", "accuracy",
			"--folds", "3",
			"--seed", "7",
			"--out", out,
		)
		require.NoError(t, err)

		assert.Contains(t, output, "2 candidates, ranked by accuracy")
		assert.Contains(t, output, "max_depth")
		assert.Contains(t, output, "held-out evaluation")
		assert.Contains(t, output, "artifact written to "+out)

		a, err := churn.LoadArtifact(out)
		require.NoError(t, err)
		assert.Equal(t, "accuracy", a.Meta.CVMetric)
	})

	t.Run("JSON output ranks best first", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "churn.gob")
		output, err := runCommand(t, "tune",
			"--data", testDataPath(),
			"--algorithm", "tree",
			"--grid", "max_depth=2,-1",
			"--metric", "accuracy",
			"--folds", "3",
			"--seed", "7",
			"--out", out,
			"--json",
		)
		require.NoError(t, err)

		var result tuneResult
		require.NoError(t, json.Unmarshal([]byte(output), &result))
		require.Len(t, result.Candidates, 2)
		assert.Equal(t, 1, result.Candidates[0].Rank)
		assert.GreaterOrEqual(t, result.Candidates[0].MeanScore, result.Candidates[1].MeanScore)
		assert.Equal(t, "accuracy", result.Artifact.CVMetric)
	})

	t.Run("Rejects a grid value of the wrong type", func(t *testing.T) {
		_, err := runCommand(t, "tune",
			"--data", testDataPath(),
			"--algorithm", "tree",
			"--grid", "max_depth=deep",
		)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "max_depth")
	})
}

func TestPredictCommand(t *testing.T) {
	model := trainArtifact(t)

	t.Run("Scores a JSON file", func(t *testing.T) {
		input := filepath.Join(t.TempDir(), "customer.json")
		require.NoError(t, os.WriteFile(input, []byte(churnerJSON), 0o644))

		output, err := runCommand(t, "predict",
			"--model", model,
			"--input", input,
			"--json",
		)
		require.NoError(t, err)

		var p churn.Prediction
		require.NoError(t, json.Unmarshal([]byte(output), &p))
		assert.Equal(t, "Yes", p.Label)
		assert.Equal(t, 1, p.LabelCode)
		assert.Greater(t, p.Probability, 0.6)
		assert.NotEmpty(t, p.ModelID)
	})

	t.Run("Scores from stdin", func(t *testing.T) {
		output, err := runCommandIn(t, strings.NewReader(churnerJSON), "predict",
			"--model", model,
			"--input", "-",
		)
		require.NoError(t, err)
		assert.Contains(t, output, "churn probability")
		assert.Contains(t, output, "Yes")
	})

	t.Run("Set flags override the file", func(t *testing.T) {
		input := filepath.Join(t.TempDir(), "customer.json")
		require.NoError(t, os.WriteFile(input, []byte(churnerJSON), 0o644))

		_, err := runCommand(t, "predict",
			"--model", model,
			"--input", input,
			"--set", "Contract=Decade",
		)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "Contract must be one of")
	})

	t.Run("Reports missing fields", func(t *testing.T) {
		_, err := runCommand(t, "predict",
			"--model", model,
			"--set", "Contract=Month-to-month",
		)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "tenure is required")
	})

	t.Run("Rejects unknown fields", func(t *testing.T) {
		_, err := runCommand(t, "predict",
			"--model", model,
			"--set", "plan=gold",
		)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "plan")
	})

	t.Run("Requires some input", func(t *testing.T) {
		_, err := runCommand(t, "predict", "--model", model)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "nothing to score")
	})
}

func TestServeCommand(t *testing.T) {
	t.Run("Fails fast on a missing config file", func(t *testing.T) {
		_, err := runCommand(t, "serve",
			"--config", filepath.Join(t.TempDir(), "absent.yaml"),
		)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "loading configuration")
	})
}
