package server

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// apiResponse is the envelope every JSON endpoint answers with. Data
// carries the payload on success, Error the machine-readable failure;
// exactly one of the two is set.
type apiResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Metadata metadata    `json:"metadata"`
	Error    *apiError   `json:"error,omitempty"`
}

type metadata struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Cached     bool      `json:"cached,omitempty"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Error codes returned in apiError.Code.
const (
	codeBadRequest       = "BAD_REQUEST"
	codeValidation       = "VALIDATION_ERROR"
	codeModelUnavailable = "MODEL_UNAVAILABLE"
	codePredictionFailed = "PREDICTION_FAILED"
	codePredictionLog    = "PREDICTION_LOG_DISABLED"
	codeRateLimited      = "RATE_LIMIT_EXCEEDED"
	codeInternal         = "INTERNAL_ERROR"
)

// rateLimited answers requests rejected by the per-IP limiter, keeping
// the envelope shape clients already parse.
func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests from this address", nil)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response could not be encoded")
	}
}

func (s *Server) respondData(w http.ResponseWriter, status int, data interface{}, md metadata) {
	md.Timestamp = time.Now().UTC()
	s.writeJSON(w, status, apiResponse{Status: statusSuccess, Data: data, Metadata: md})
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	s.writeJSON(w, status, apiResponse{
		Status:   statusError,
		Metadata: metadata{Timestamp: time.Now().UTC()},
		Error:    &apiError{Code: code, Message: message, Details: details},
	})
}
