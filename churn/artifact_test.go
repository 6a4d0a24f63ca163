package churn

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactSaveLoad(t *testing.T) {
	a := trainTiny(t, TrainConfig{Algorithm: AlgorithmForest})
	path := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, a.Save(path))

	b, err := LoadArtifact(path)
	require.NoError(t, err)

	assert.Equal(t, a.Meta.ID, b.Meta.ID)
	assert.Equal(t, a.Meta.Algorithm, b.Meta.Algorithm)
	assert.Equal(t, a.Meta.DataFingerprint, b.Meta.DataFingerprint)
	require.NotNil(t, b.Meta.Metrics)
	assert.Equal(t, a.Meta.Metrics.Accuracy, b.Meta.Metrics.Accuracy)
	assert.True(t, b.Recipe.IsFitted())
	assert.True(t, b.Model.IsFitted())

	// The reloaded model must score exactly like the original.
	in := validInput()
	pa, err := PredictRow(a, in)
	require.NoError(t, err)
	pb, err := PredictRow(b, in)
	require.NoError(t, err)
	assert.InDelta(t, pa.Probability, pb.Probability, 1e-12)
	assert.Equal(t, pa.Label, pb.Label)
}

func TestArtifactWriteRead(t *testing.T) {
	a := trainTiny(t, TrainConfig{Algorithm: AlgorithmLogReg})

	var buf bytes.Buffer
	require.NoError(t, a.WriteTo(&buf))

	b, err := ReadArtifact(&buf)
	require.NoError(t, err)
	assert.Equal(t, a.Meta.ID, b.Meta.ID)

	pa, err := PredictRow(a, validInput())
	require.NoError(t, err)
	pb, err := PredictRow(b, validInput())
	require.NoError(t, err)
	assert.InDelta(t, pa.Probability, pb.Probability, 1e-12)
}

func TestArtifactVersionGuard(t *testing.T) {
	a := trainTiny(t, TrainConfig{Algorithm: AlgorithmTree})
	a.Version = 99

	path := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, a.Save(path))

	_, err := LoadArtifact(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestArtifactRejectsHalfBuilt(t *testing.T) {
	t.Run("Missing parts", func(t *testing.T) {
		empty := &Artifact{Version: ArtifactVersion}
		assert.Error(t, empty.Save(filepath.Join(t.TempDir(), "m.gob")))
	})

	t.Run("Unfitted parts", func(t *testing.T) {
		clf, err := NewClassifier(AlgorithmLogReg, 1)
		require.NoError(t, err)
		raw := &Artifact{
			Version: ArtifactVersion,
			Recipe:  DefaultRecipe(),
			Model:   clf,
		}
		err = raw.Save(filepath.Join(t.TempDir(), "m.gob"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not fitted")
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadArtifact(filepath.Join(t.TempDir(), "absent.gob"))
		assert.Error(t, err)
	})
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Fingerprint([]byte("abc")))
	assert.Len(t, Fingerprint(nil), 64)
}
