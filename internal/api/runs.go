package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aligncensus/aligncensus/internal/export"
	"github.com/aligncensus/aligncensus/internal/observability"
	"github.com/aligncensus/aligncensus/internal/runs"
	"github.com/aligncensus/aligncensus/internal/storage"
)

func (s *server) runsConfigured(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Runs == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUN_HISTORY_NOT_CONFIGURED", "run history requires a catalog database", false, nil)
		return false
	}
	return true
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.runsConfigured(w, r) {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}

	listed, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RUN_HISTORY_FAILED", "failed to list runs", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": listed, "count": len(listed)})
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleRunExport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.ObjectKey == "" || s.deps.Publisher == nil {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "run has no published export", false, map[string]any{"run_id": run.RunID})
		return
	}

	reader, size, err := s.deps.Publisher.Open(r.Context(), run.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "published export is missing from the object store", false, map[string]any{"object_key": run.ObjectKey})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", err.Error(), true, nil)
		return
	}
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", export.ParquetContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+run.RunID+`.parquet"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		s.logger().WarnContext(r.Context(), "export stream interrupted",
			slog.String("run_id", run.RunID),
			slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
			slog.Any("error", err),
		)
	}
}

func (s *server) lookupRun(w http.ResponseWriter, r *http.Request) (runs.Run, bool) {
	if !s.runsConfigured(w, r) {
		return runs.Run{}, false
	}
	runID := r.PathValue("run_id")
	if !runs.ValidRunID(runID) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_RUN_ID", "run_id must be a uuid", false, map[string]any{"run_id": runID})
		return runs.Run{}, false
	}
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "run not found", false, map[string]any{"run_id": runID})
			return runs.Run{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "RUN_HISTORY_FAILED", "failed to load run", true, nil)
		return runs.Run{}, false
	}
	return run, true
}
