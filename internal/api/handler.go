// Package api serves census validation, retrieval and alignment over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aligncensus/aligncensus/internal/auth"
	"github.com/aligncensus/aligncensus/internal/census"
	"github.com/aligncensus/aligncensus/internal/config"
	"github.com/aligncensus/aligncensus/internal/export"
	"github.com/aligncensus/aligncensus/internal/observability"
	"github.com/aligncensus/aligncensus/internal/runs"
	"github.com/aligncensus/aligncensus/internal/table"
)

type ReadinessCheck func(ctx context.Context) error

// CensusClient retrieves data and the dataset catalog.
type CensusClient interface {
	FetchTable(ctx context.Context, request string) (table.Table, error)
	ListDatasets(ctx context.Context, baseURL string) ([]census.Dataset, error)
}

type ResultPublisher interface {
	Publish(ctx context.Context, runID string, t table.Table) (export.Published, error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Discard(ctx context.Context, key string) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Census            CensusClient
	// Metadata is shared by every request; wrap the client in a
	// census.CachingFetcher so repeated URLs are fetched once.
	Metadata  census.MetadataFetcher
	Aligner   table.Aligner
	Runs      runs.Repository
	Publisher ResultPublisher
}

type server struct {
	cfg  config.Config
	deps Dependencies
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Aligner == nil {
		deps.Aligner = table.NewLeftJoin()
	}
	s := &server{cfg: cfg, deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := map[string]http.HandlerFunc{
		"POST /v1/validate":            s.handleValidate,
		"POST /v1/query":               s.handleQuery,
		"POST /v1/align":               s.handleAlign,
		"GET /v1/datasets":             s.handleDatasets,
		"GET /v1/runs":                 s.handleListRuns,
		"GET /v1/runs/{run_id}":        s.handleGetRun,
		"GET /v1/runs/{run_id}/export": s.handleRunExport,
	}
	for pattern, handler := range protected {
		mux.Handle(pattern, s.protect(auth.RequireRole(auth.RoleCensusReader, handler)))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func (s *server) protect(next http.Handler) http.Handler {
	if !s.cfg.Auth.Required {
		return next
	}
	if s.deps.AuthMiddleware == nil {
		if s.deps.Logger != nil {
			s.deps.Logger.Error("auth required but auth middleware missing")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
		})
	}
	return s.deps.AuthMiddleware(next)
}

func (s *server) logger() *slog.Logger {
	if s.deps.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.deps.Logger
}

// CheckCensusKey fails while no census API key is configured, since every
// census route would answer CONFIGURATION_ERROR.
func CheckCensusKey(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Census.APIKey == "" {
			return errors.New("census api key is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
