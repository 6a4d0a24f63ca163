package churn

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/ensemble"
	"github.com/YuminosukeSato/churnkit/linear_model"
	"github.com/YuminosukeSato/churnkit/metrics"
	"github.com/YuminosukeSato/churnkit/neighbors"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/preprocessing"
	"github.com/YuminosukeSato/churnkit/tree"
)

// ArtifactVersion is bumped whenever the serialized layout changes in
// a way old readers cannot decode.
const ArtifactVersion = 1

// The artifact stores its model behind the Classifier interface, so
// every concrete estimator the workflow can train must be registered
// with gob before the first encode or decode.
func init() {
	gob.Register(&linear_model.LogisticRegression{})
	gob.Register(&neighbors.KNeighborsClassifier{})
	gob.Register(&tree.DecisionTreeClassifier{})
	gob.Register(&ensemble.RandomForestClassifier{})
}

// Evaluation holds the held-out metrics of a trained model. The
// positive class is the recipe's positive label, encoded as 1.
type Evaluation struct {
	Accuracy  float64                 `json:"accuracy"`
	Precision float64                 `json:"precision"`
	Recall    float64                 `json:"recall"`
	F1        float64                 `json:"f1"`
	LogLoss   float64                 `json:"log_loss"`
	AUROC     float64                 `json:"auroc"`
	AUPRC     float64                 `json:"auprc"`
	Confusion metrics.ConfusionMatrix `json:"confusion"`
	NTest     int                     `json:"n_test"`
}

// String renders the headline metrics on one line for logs.
func (e *Evaluation) String() string {
	return fmt.Sprintf("accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f log_loss=%.4f auroc=%.4f auprc=%.4f",
		e.Accuracy, e.Precision, e.Recall, e.F1, e.LogLoss, e.AUROC, e.AUPRC)
}

// Metadata describes how and from what an artifact was produced.
// Hyperparams are stored pre-formatted so the map stays gob friendly
// and renders directly in API responses.
type Metadata struct {
	ID              string            `json:"id"`
	CreatedAt       time.Time         `json:"created_at"`
	Algorithm       string            `json:"algorithm"`
	Hyperparams     map[string]string `json:"hyperparams"`
	DataPath        string            `json:"data_path"`
	DataFingerprint string            `json:"data_fingerprint"`
	NRows           int               `json:"n_rows"`
	NFeatures       int               `json:"n_features"`
	BaseRate        float64           `json:"base_rate"`
	PositiveLabel   string            `json:"positive_label"`
	Seed            int64             `json:"seed"`
	Resampling      string            `json:"resampling,omitempty"`
	CVMetric        string            `json:"cv_metric,omitempty"`
	CVScore         float64           `json:"cv_score,omitempty"`
	Metrics         *Evaluation       `json:"metrics,omitempty"`
}

// Artifact bundles everything scoring needs: the fitted recipe, the
// fitted model and the provenance of both. One file, one deploy unit.
type Artifact struct {
	Version int
	Recipe  *preprocessing.Recipe
	Model   model.Classifier
	Meta    Metadata
}

// Save writes the artifact to path with gob.
func (a *Artifact) Save(path string) error {
	if err := a.check("Artifact.Save"); err != nil {
		return err
	}
	return model.SaveModel(a, path)
}

// WriteTo streams the artifact into w, for callers that manage their
// own files or buffers.
func (a *Artifact) WriteTo(w io.Writer) error {
	if err := a.check("Artifact.WriteTo"); err != nil {
		return err
	}
	return model.SaveModelToWriter(a, w)
}

func (a *Artifact) check(op string) error {
	if a.Recipe == nil || a.Model == nil {
		return kiterrors.NewValueError(op, "artifact is missing its recipe or model")
	}
	if !a.Recipe.IsFitted() || !a.Model.IsFitted() {
		return kiterrors.NewNotFittedError("Artifact", op)
	}
	return nil
}

// LoadArtifact reads an artifact from path and verifies it is usable:
// supported version, fitted recipe, fitted model.
func LoadArtifact(path string) (*Artifact, error) {
	var a Artifact
	if err := model.LoadModel(&a, path); err != nil {
		return nil, err
	}
	if err := a.verify(); err != nil {
		return nil, err
	}
	return &a, nil
}

// ReadArtifact is LoadArtifact for an arbitrary reader.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := model.LoadModelFromReader(&a, r); err != nil {
		return nil, err
	}
	if err := a.verify(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) verify() error {
	if a.Version != ArtifactVersion {
		return kiterrors.NewValueError("LoadArtifact",
			fmt.Sprintf("artifact version %d is not supported, want %d", a.Version, ArtifactVersion))
	}
	return a.check("LoadArtifact")
}

// PositiveLabel returns the raw class name a probability refers to.
func (a *Artifact) PositiveLabel() string {
	return a.Meta.PositiveLabel
}

// String identifies the artifact in logs.
func (a *Artifact) String() string {
	return fmt.Sprintf("Artifact(id=%s, algorithm=%s, created=%s)",
		a.Meta.ID, a.Meta.Algorithm, a.Meta.CreatedAt.Format(time.RFC3339))
}

// Fingerprint is the hex SHA-256 of the raw training file, recorded so
// a served model can be traced back to the exact bytes it was fit on.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// formatParams renders hyperparameters as display strings for the
// metadata block.
func formatParams(params map[string]interface{}) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
