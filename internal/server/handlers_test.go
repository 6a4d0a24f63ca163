package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnkit/churn"
	"github.com/YuminosukeSato/churnkit/internal/config"
	"github.com/YuminosukeSato/churnkit/internal/predlog"
)

func TestPredictEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", churnerJSON)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	require.Equal(t, "success", env.Status)
	require.Nil(t, env.Error)
	assert.False(t, env.Metadata.Cached)

	var p churn.Prediction
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "Yes", p.Label)
	assert.Equal(t, 1, p.LabelCode)
	assert.Greater(t, p.Probability, 0.6)
	assert.Equal(t, s.current.Load().artifact.Meta.ID, p.ModelID)

	t.Run("Identical submission is served from cache", func(t *testing.T) {
		rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", churnerJSON)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, env.Metadata.Cached)

		var cached churn.Prediction
		require.NoError(t, json.Unmarshal(env.Data, &cached))
		assert.InDelta(t, p.Probability, cached.Probability, 1e-12)
	})

	t.Run("Cache hits still reach the audit log", func(t *testing.T) {
		n, err := s.store.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestPredictRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	t.Run("Malformed JSON", func(t *testing.T) {
		rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", `{"gender": `)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "BAD_REQUEST", env.Error.Code)
	})

	t.Run("Unknown field", func(t *testing.T) {
		rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", `{"plan": "gold"}`)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "BAD_REQUEST", env.Error.Code)
		assert.Contains(t, env.Error.Message, "plan")
	})

	t.Run("Missing required fields", func(t *testing.T) {
		rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", `{"gender": "Female"}`)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		assert.Equal(t, "is required", env.Error.Details["Contract"])
		assert.Equal(t, "is required", env.Error.Details["tenure"])
		assert.NotContains(t, env.Error.Details, "gender")
	})

	t.Run("Value outside the schema", func(t *testing.T) {
		body := `{
			"gender": "Female", "SeniorCitizen": 0, "Partner": "No", "Dependents": "No",
			"tenure": 3, "PhoneService": "Yes", "MultipleLines": "No",
			"InternetService": "Satellite", "OnlineSecurity": "No", "OnlineBackup": "No",
			"DeviceProtection": "No", "TechSupport": "No", "StreamingTV": "Yes",
			"StreamingMovies": "Yes", "Contract": "Month-to-month", "PaperlessBilling": "Yes",
			"PaymentMethod": "Electronic check", "MonthlyCharges": 85.5, "TotalCharges": 256.5
		}`
		rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", body)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		assert.Contains(t, env.Error.Details["InternetService"], "must be one of")
	})
}

func TestPredictWithoutModel(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Artifact.Path = cfg.Artifact.Path + ".absent"
	})
	router := s.Router()

	rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", churnerJSON)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "MODEL_UNAVAILABLE", env.Error.Code)

	rr, env = doJSON(t, router, http.MethodGet, "/api/v1/model", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "MODEL_UNAVAILABLE", env.Error.Code)
}

func TestModelEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	rr, env := doJSON(t, router, http.MethodGet, "/api/v1/model", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "success", env.Status)

	var meta churn.Metadata
	require.NoError(t, json.Unmarshal(env.Data, &meta))
	want := s.current.Load().artifact.Meta
	assert.Equal(t, want.ID, meta.ID)
	assert.Equal(t, churn.AlgorithmLogReg, meta.Algorithm)
	assert.InDelta(t, want.BaseRate, meta.BaseRate, 1e-12)
	require.NotNil(t, meta.Metrics)
	assert.Greater(t, meta.Metrics.AUROC, 0.5)
}

func TestRecentPredictions(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	for i := 0; i < 2; i++ {
		rr, _ := doJSON(t, router, http.MethodPost, "/api/v1/predict", churnerJSON)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr, env := doJSON(t, router, http.MethodGet, "/api/v1/predictions?limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "success", env.Status)

	var records []predlog.Record
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "rest", rec.Source)
		assert.Equal(t, "Yes", rec.Label)
		assert.Equal(t, "Month-to-month", rec.Inputs["Contract"])
	}

	t.Run("Bad limit", func(t *testing.T) {
		for _, raw := range []string{"abc", "0", "-3"} {
			rr, env := doJSON(t, router, http.MethodGet, "/api/v1/predictions?limit="+raw, "")
			require.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", raw)
			require.NotNil(t, env.Error)
			assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		}
	})

	t.Run("Disabled log answers 503", func(t *testing.T) {
		off := newTestServer(t, func(cfg *config.Config) {
			cfg.Predictions.Enabled = false
		})
		rr, env := doJSON(t, off.Router(), http.MethodGet, "/api/v1/predictions", "")
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "PREDICTION_LOG_DISABLED", env.Error.Code)
	})
}

func TestDriftGauges(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Drift.MinObservations = 1
	})
	router := s.Router()

	base := s.current.Load().artifact.Meta.BaseRate
	assert.InDelta(t, base, testutil.ToFloat64(s.metrics.driftRate), 1e-12,
		"gauge seeds at the training base rate")

	rr, _ := doJSON(t, router, http.MethodPost, "/api/v1/predict", churnerJSON)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.InDelta(t, 1.0, testutil.ToFloat64(s.metrics.driftRate), 1e-12,
		"one positive observation")
	assert.Greater(t, testutil.ToFloat64(s.metrics.driftSigmas), 0.0)
}
