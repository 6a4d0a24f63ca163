// Package server exposes a trained churn artifact over HTTP: a JSON
// prediction API under /api/v1, a small HTML form for manual scoring,
// and the operational endpoints (/healthz, /metrics) around them.
//
// The artifact hot-reloads when its file changes on disk, every served
// prediction lands in a SQLite audit log, and a drift monitor tracks
// the live positive rate against the training base rate.
package server

import (
	"context"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/churnkit/churn"
	"github.com/YuminosukeSato/churnkit/drift"
	"github.com/YuminosukeSato/churnkit/internal/config"
	"github.com/YuminosukeSato/churnkit/internal/predlog"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/pkg/log"
)

// reloadDebounce coalesces the burst of filesystem events a single
// artifact save produces into one reload.
const reloadDebounce = 200 * time.Millisecond

// servedModel pairs the live artifact with the drift monitor seeded
// from its training base rate; the two always swap together.
type servedModel struct {
	artifact *churn.Artifact
	monitor  *drift.RateMonitor
	warned   atomic.Bool
}

// Server serves predictions from the configured artifact. Build one
// with New, start it with Run, and release its resources with Close.
type Server struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *serverMetrics
	store   *predlog.Store
	cache   *predictionCache

	current atomic.Pointer[servedModel]
	watcher *fsnotify.Watcher
}

// New wires the server from its configuration: the audit log, the
// prediction cache, the initial artifact, and the file watcher. A
// missing or unreadable artifact is not fatal; the server starts
// not-ready and becomes ready once a loadable artifact appears.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		log:     log.Component("server"),
		metrics: newServerMetrics(),
	}

	if cfg.Predictions.Enabled {
		store, err := predlog.Open(cfg.Predictions.Path)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if cfg.Cache.Size > 0 {
		cache, err := newPredictionCache(cfg.Cache.Size)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.cache = cache
	}

	if err := s.loadArtifact(); err != nil {
		s.log.Warn().Err(err).Str("artifact.path", cfg.Artifact.Path).
			Msg("no model loaded yet; serving not-ready until one appears")
	}

	if cfg.Artifact.Watch {
		if err := s.watchArtifact(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Router assembles the chi handler tree. It is exported so tests can
// drive the server through httptest without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)
	if len(s.cfg.Server.CORSOrigins) > 0 {
		// Global so OPTIONS preflights are answered for every route.
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", requestIDHeader},
			MaxAge:         86400,
		}))
	}

	r.Route("/api/v1", func(api chi.Router) {
		if reqs := s.cfg.Server.RateLimitRequests; reqs > 0 {
			api.Use(httprate.Limit(reqs, s.cfg.Server.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(s.rateLimited),
			))
		}
		api.Use(s.instrument)

		api.Post("/predict", s.handlePredict)
		api.Get("/model", s.handleModel)
		api.Get("/predictions", s.handlePredictions)
	})

	r.Group(func(ui chi.Router) {
		ui.Use(s.instrument)
		ui.Get("/", s.handleForm)
		ui.Post("/predict", s.handleFormSubmit)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	if dir := s.cfg.Artifact.PlotDir; dir != "" {
		r.Handle("/artifacts/*", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(dir))))
	}
	return r
}

// Run serves until ctx is canceled, then drains in-flight requests
// within the configured shutdown timeout. Call Close afterwards.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("server.addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !kiterrors.Is(err, http.ErrServerClosed) {
			errCh <- kiterrors.Wrap(err, "server: listening")
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Dur("server.shutdown_timeout", s.cfg.Server.ShutdownTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return kiterrors.Wrap(err, "server: shutdown")
	}
	return nil
}

// Close stops the artifact watcher and closes the audit log. It must
// not race in-flight requests; Run's shutdown drains them first.
func (s *Server) Close() error {
	var firstErr error
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			firstErr = kiterrors.Wrap(err, "server: closing watcher")
		}
		s.watcher = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.store = nil
	}
	return firstErr
}

// Ready reports whether a model is loaded and predictions can be served.
func (s *Server) Ready() bool {
	return s.current.Load() != nil
}

// loadArtifact reads the configured artifact and swaps it in together
// with a fresh drift monitor. On failure the previous model, if any,
// keeps serving.
func (s *Server) loadArtifact() error {
	a, err := churn.LoadArtifact(s.cfg.Artifact.Path)
	if err != nil {
		return err
	}
	monitor, err := drift.NewRateMonitor(a.Meta.BaseRate,
		drift.WithMinObservations(s.cfg.Drift.MinObservations),
		drift.WithWarningLevel(s.cfg.Drift.WarningSigmas),
		drift.WithAlarmLevel(s.cfg.Drift.AlarmSigmas),
	)
	if err != nil {
		return kiterrors.Wrapf(err, "server: building drift monitor for artifact %s", a.Meta.ID)
	}

	s.current.Store(&servedModel{artifact: a, monitor: monitor})
	s.metrics.artifactLoaded.Set(1)
	s.metrics.driftRate.Set(a.Meta.BaseRate)
	s.metrics.driftSigmas.Set(0)
	s.log.Info().
		Str(log.ArtifactIDKey, a.Meta.ID).
		Str(log.AlgorithmKey, a.Meta.Algorithm).
		Float64(log.PositiveRateKey, a.Meta.BaseRate).
		Msg("model loaded")
	return nil
}

// watchArtifact watches the artifact's parent directory. Writers
// replace the file by rename, which would silently detach a watch
// placed on the file itself.
func (s *Server) watchArtifact() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return kiterrors.Wrap(err, "server: starting artifact watcher")
	}
	dir := filepath.Dir(s.cfg.Artifact.Path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return kiterrors.Wrapf(err, "server: watching %s", dir)
	}
	s.watcher = watcher
	go s.watchLoop(watcher, filepath.Clean(s.cfg.Artifact.Path))
	s.log.Info().Str("artifact.dir", dir).Msg("watching for artifact updates")
	return nil
}

func (s *Server) watchLoop(watcher *fsnotify.Watcher, target string) {
	var pending *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, s.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("artifact watcher error")
		}
	}
}

func (s *Server) reload() {
	if err := s.loadArtifact(); err != nil {
		s.log.Warn().Err(err).Str("artifact.path", s.cfg.Artifact.Path).
			Msg("artifact changed but could not be reloaded; keeping the previous model")
	}
}
