package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnkit/churn"
	"github.com/YuminosukeSato/churnkit/internal/config"
)

var trained struct {
	once sync.Once
	a    *churn.Artifact
	err  error
}

// trainedArtifact trains one small model per test binary and reuses it.
func trainedArtifact(t *testing.T) *churn.Artifact {
	t.Helper()
	trained.once.Do(func() {
		trained.a, trained.err = churn.Train(context.Background(), churn.TrainConfig{
			DataPath:  filepath.Join("..", "..", "churn", "testdata", "churn_tiny.csv"),
			Algorithm: churn.AlgorithmLogReg,
			Seed:      42,
		})
	})
	require.NoError(t, trained.err)
	return trained.a
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:              "127.0.0.1",
			Port:              0,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
			IdleTimeout:       5 * time.Second,
			ShutdownTimeout:   time.Second,
			RateLimitRequests: 0,
			RateLimitWindow:   time.Minute,
		},
		Artifact: config.ArtifactConfig{
			Path:  filepath.Join(dir, "churn.gob"),
			Watch: false,
		},
		Predictions: config.PredictionsConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "predictions.db"),
		},
		Cache: config.CacheConfig{Size: 64},
		Drift: config.DriftConfig{
			MinObservations: 30,
			WarningSigmas:   2.0,
			AlarmSigmas:     3.0,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "console"},
	}
}

// newTestServer builds a server around a freshly saved artifact in a
// temp directory. mutate adjusts the config before New runs; a mutate
// that repoints Artifact.Path makes the server start without a model,
// since the artifact is saved to the default path first.
func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)
	require.NoError(t, trainedArtifact(t).Save(cfg.Artifact.Path))
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata struct {
		Timestamp  time.Time `json:"timestamp"`
		DurationMS int64     `json:"duration_ms"`
		Cached     bool      `json:"cached"`
	} `json:"metadata"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env),
		"response body: %s", rr.Body.String())
	return rr, env
}

// churnerJSON is a month-to-month fiber customer with short tenure,
// the same profile the training tests score as a churner.
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

func TestHealthz(t *testing.T) {
	t.Run("Ready once a model is loaded", func(t *testing.T) {
		s := newTestServer(t, nil)
		router := s.Router()

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var h struct {
			Status  string `json:"status"`
			Ready   bool   `json:"ready"`
			ModelID string `json:"model_id"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
		assert.Equal(t, "ok", h.Status)
		assert.True(t, h.Ready)
		assert.Equal(t, s.current.Load().artifact.Meta.ID, h.ModelID)
	})

	t.Run("Degraded without a model", func(t *testing.T) {
		s := newTestServer(t, func(cfg *config.Config) {
			cfg.Artifact.Path = filepath.Join(t.TempDir(), "missing.gob")
		})
		router := s.Router()

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.False(t, s.Ready())
		assert.Contains(t, rr.Body.String(), `"degraded"`)
	})
}

func TestArtifactHotReload(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Artifact.Watch = true

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.False(t, s.Ready(), "no artifact file yet")

	first := trainedArtifact(t)
	require.NoError(t, first.Save(cfg.Artifact.Path))
	require.Eventually(t, s.Ready, 3*time.Second, 25*time.Millisecond,
		"server should pick up the new artifact")
	assert.Equal(t, first.Meta.ID, s.current.Load().artifact.Meta.ID)

	// Replace by rename, the way a deploy script would.
	second, err := churn.Train(context.Background(), churn.TrainConfig{
		DataPath:  filepath.Join("..", "..", "churn", "testdata", "churn_tiny.csv"),
		Algorithm: churn.AlgorithmLogReg,
		Seed:      7,
	})
	require.NoError(t, err)
	tmp := cfg.Artifact.Path + ".tmp"
	require.NoError(t, second.Save(tmp))
	require.NoError(t, os.Rename(tmp, cfg.Artifact.Path))

	require.Eventually(t, func() bool {
		return s.current.Load().artifact.Meta.ID == second.Meta.ID
	}, 3*time.Second, 25*time.Millisecond, "server should swap to the replaced artifact")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	rr, env := doJSON(t, router, http.MethodPost, "/api/v1/predict", churnerJSON)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	require.Equal(t, "success", env.Status)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrr := httptest.NewRecorder()
	router.ServeHTTP(mrr, req)

	require.Equal(t, http.StatusOK, mrr.Code)
	body := mrr.Body.String()
	assert.Contains(t, body, "churnkit_http_requests_total")
	assert.Contains(t, body, "churnkit_predictions_total")
	assert.Contains(t, body, "churnkit_artifact_loaded 1")

	assert.InDelta(t, 1.0, testutil.ToFloat64(s.metrics.artifactLoaded), 1e-12)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimitRequests = 2
		cfg.Server.RateLimitWindow = time.Minute
	})
	router := s.Router()

	for i := 0; i < 2; i++ {
		rr, _ := doJSON(t, router, http.MethodGet, "/api/v1/model", "")
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr, env := doJSON(t, router, http.MethodGet, "/api/v1/model", "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-chosen-id")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, "caller-chosen-id", rr.Header().Get("X-Request-ID"))
}

func TestRunShutsDownGracefully(t *testing.T) {
	s := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
