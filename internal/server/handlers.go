package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/churnkit/churn"
	"github.com/YuminosukeSato/churnkit/internal/predlog"
	"github.com/YuminosukeSato/churnkit/pkg/log"
)

// Request sources recorded in the audit log and the prediction metrics.
const (
	sourceREST = "rest"
	sourceForm = "form"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// handlePredict scores one customer from a JSON body. Unknown fields
// are rejected so a typoed column name fails loudly instead of being
// scored as missing.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var in churn.CustomerInput
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, codeBadRequest,
			"request body is not a valid customer record: "+err.Error(), nil)
		return
	}
	if err := in.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, codeValidation,
			"customer record failed validation", churn.FieldErrors(err))
		return
	}

	sm := s.current.Load()
	if sm == nil {
		s.respondError(w, http.StatusServiceUnavailable, codeModelUnavailable,
			"no trained model is loaded", nil)
		return
	}

	p, cached, err := s.predict(sm, &in)
	if err != nil {
		s.log.Error().Err(err).Str(log.RequestIDKey, requestIDFrom(r.Context())).
			Msg("prediction failed")
		s.respondError(w, http.StatusInternalServerError, codePredictionFailed,
			"the model could not score this record", nil)
		return
	}
	s.record(r, sm, &in, p, sourceREST)

	s.respondData(w, http.StatusOK, p, metadata{
		DurationMS: time.Since(start).Milliseconds(),
		Cached:     cached,
	})
}

// handleModel reports the metadata of the artifact currently serving.
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	sm := s.current.Load()
	if sm == nil {
		s.respondError(w, http.StatusServiceUnavailable, codeModelUnavailable,
			"no trained model is loaded", nil)
		return
	}
	s.respondData(w, http.StatusOK, sm.artifact.Meta, metadata{})
}

// handlePredictions returns the newest audit-log entries, newest first.
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, codePredictionLog,
			"the prediction log is disabled on this server", nil)
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, codeValidation,
				"query parameter limit failed validation",
				map[string]string{"limit": "must be a positive integer"})
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("prediction log read failed")
		s.respondError(w, http.StatusInternalServerError, codeInternal,
			"the prediction log could not be read", nil)
		return
	}
	s.respondData(w, http.StatusOK, records, metadata{})
}

// handleHealthz answers readiness probes outside the API envelope so
// load balancers get a flat, stable shape.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status  string `json:"status"`
		Ready   bool   `json:"ready"`
		ModelID string `json:"model_id,omitempty"`
	}

	h := health{Status: "degraded"}
	status := http.StatusServiceUnavailable
	if sm := s.current.Load(); sm != nil {
		h.Status = "ok"
		h.Ready = true
		h.ModelID = sm.artifact.Meta.ID
		status = http.StatusOK
	}
	s.writeJSON(w, status, h)
}

// predict scores a validated input, consulting the cache first.
func (s *Server) predict(sm *servedModel, in *churn.CustomerInput) (*churn.Prediction, bool, error) {
	var key string
	if s.cache != nil {
		key = cacheKey(sm.artifact.Meta.ID, in.Fields())
		if p, ok := s.cache.Get(key); ok {
			s.metrics.cacheHits.Inc()
			return p, true, nil
		}
		s.metrics.cacheMisses.Inc()
	}

	p, err := churn.PredictRow(sm.artifact, in)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		s.cache.Add(key, p)
	}
	return p, false, nil
}

// record books a served prediction everywhere it needs to land: the
// metrics, the drift monitor and the audit log. Cache hits count too;
// the monitor tracks what the service answers, not what the model
// computes.
func (s *Server) record(r *http.Request, sm *servedModel, in *churn.CustomerInput, p *churn.Prediction, source string) {
	s.metrics.predictionsTotal.WithLabelValues(p.Label, source).Inc()

	status := sm.monitor.Observe(p.LabelCode)
	if status.Observations >= s.cfg.Drift.MinObservations {
		// Below the floor the status carries no judged rate; the
		// gauges keep their last values.
		s.metrics.driftRate.Set(status.PositiveRate)
		s.metrics.driftSigmas.Set(status.Sigmas)
	}
	switch {
	case status.Alarm:
		s.metrics.driftAlarms.Inc()
		sm.warned.Store(false)
	case status.Warning:
		if sm.warned.CompareAndSwap(false, true) {
			s.log.Warn().
				Float64(log.PositiveRateKey, status.PositiveRate).
				Float64("drift.sigmas", status.Sigmas).
				Float64("drift.base_rate", status.BaseRate).
				Msg("live positive rate is drifting from the training base rate")
		}
	default:
		sm.warned.Store(false)
	}

	if s.store != nil {
		rec := predlog.Record{
			ID:          uuid.NewString(),
			CreatedAt:   time.Now().UTC(),
			Source:      source,
			Inputs:      in.Fields(),
			Label:       p.Label,
			LabelCode:   p.LabelCode,
			Probability: p.Probability,
			ModelID:     p.ModelID,
		}
		if err := s.store.Append(r.Context(), rec); err != nil {
			s.log.Warn().Err(err).Msg("prediction could not be audit-logged")
		}
	}

	s.log.Info().
		Str(log.RequestIDKey, requestIDFrom(r.Context())).
		Str(log.SourceKey, source).
		Str(log.ArtifactIDKey, p.ModelID).
		Str("prediction.label", p.Label).
		Float64("prediction.probability", p.Probability).
		Msg("prediction served")
}
