package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnkit/internal/config"
)

// churnerForm mirrors churnerJSON as a browser submission.
func churnerForm() url.Values {
	return url.Values{
		"gender":           {"Female"},
		"SeniorCitizen":    {"0"},
		"Partner":          {"No"},
		"Dependents":       {"No"},
		"tenure":           {"3"},
		"PhoneService":     {"Yes"},
		"MultipleLines":    {"No"},
		"InternetService":  {"Fiber optic"},
		"OnlineSecurity":   {"No"},
		"OnlineBackup":     {"No"},
		"DeviceProtection": {"No"},
		"TechSupport":      {"No"},
		"StreamingTV":      {"Yes"},
		"StreamingMovies":  {"Yes"},
		"Contract":         {"Month-to-month"},
		"PaperlessBilling": {"Yes"},
		"PaymentMethod":    {"Electronic check"},
		"MonthlyCharges":   {"85.5"},
		"TotalCharges":     {"256.5"},
	}
}

func postForm(t *testing.T, handler http.Handler, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestFormPage(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `<form method="post" action="/predict">`)
	assert.Contains(t, body, `name="Contract"`)
	assert.Contains(t, body, `<option value="Month-to-month"`)
	assert.Contains(t, body, `name="tenure"`, "numeric field renders as an input")
	assert.Contains(t, body, `name="SeniorCitizen"`)
	assert.Contains(t, body, "Model logreg", "footer names the live model")
}

func TestFormSubmit(t *testing.T) {
	s := newTestServer(t, nil)
	router := s.Router()

	t.Run("Valid submission renders the score", func(t *testing.T) {
		rr := postForm(t, router, churnerForm())
		require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
		body := rr.Body.String()
		assert.Contains(t, body, "Likely to churn")
		assert.Contains(t, body, "Churn probability")
		assert.Contains(t, body, `class="result churn"`)
		assert.Contains(t, body, `selected`, "submitted values stay selected")

		n, err := s.store.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Missing field re-renders with errors and kept values", func(t *testing.T) {
		values := churnerForm()
		values.Set("Contract", "")
		rr := postForm(t, router, values)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		body := rr.Body.String()
		assert.Contains(t, body, "Please fill in the highlighted fields.")
		assert.Contains(t, body, "is required")
		assert.Contains(t, body, `value="85.5"`, "submitted values survive the re-render")
		assert.NotContains(t, body, "Churn probability")
	})

	t.Run("Submission without a model", func(t *testing.T) {
		bare := newTestServer(t, func(cfg *config.Config) {
			cfg.Artifact.Path = cfg.Artifact.Path + ".absent"
		})
		rr := postForm(t, bare.Router(), churnerForm())
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "No trained model is loaded yet.")
	})
}
