package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aligncensus/aligncensus/internal/census"
	"github.com/aligncensus/aligncensus/internal/export"
	"github.com/aligncensus/aligncensus/internal/observability"
	"github.com/aligncensus/aligncensus/internal/runs"
	"github.com/aligncensus/aligncensus/internal/table"
)

type validateRequest struct {
	DatabaseURL string `json:"database_url"`
	Variable    string `json:"variable"`
	Predicate   string `json:"predicate"`
}

type queryRequest struct {
	DatabaseURL    string `json:"database_url"`
	Variable       string `json:"variable"`
	Predicate      string `json:"predicate"`
	SkipValidation bool   `json:"skip_validation"`
}

type alignRequest struct {
	DatabaseURL string `json:"database_url"`
	Variable    string `json:"variable"`
	Predicate   string `json:"predicate"`
	// PredicateKey derives the predicate from the distinct values of
	// TableKey when Predicate is empty.
	PredicateKey   string      `json:"predicate_key"`
	Table          table.Table `json:"table"`
	TableKey       string      `json:"table_key"`
	CensusKey      string      `json:"census_key"`
	SkipValidation bool        `json:"skip_validation"`
	Publish        bool        `json:"publish"`
}

type tableResponse struct {
	RunID     string          `json:"run_id"`
	Columns   []string        `json:"columns"`
	Rows      [][]table.Value `json:"rows"`
	RowCount  int             `json:"row_count"`
	ObjectKey string          `json:"object_key,omitempty"`
}

func (s *server) spec(databaseURL, variable, predicate string) census.QuerySpec {
	return census.QuerySpec{
		DatabaseURL: strings.TrimSpace(databaseURL),
		Variable:    strings.TrimSpace(variable),
		Predicate:   strings.TrimSpace(predicate),
		APIKey:      s.cfg.Census.APIKey,
	}
}

func (s *server) censusConfigured(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Census == nil || s.deps.Metadata == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CENSUS_NOT_CONFIGURED", "census client is not configured", false, nil)
		return false
	}
	return true
}

// censusKeyConfigured rejects data requests when the service itself has no
// census API key; clients cannot supply one.
func (s *server) censusKeyConfigured(w http.ResponseWriter, r *http.Request) bool {
	if !s.censusConfigured(w, r) {
		return false
	}
	if strings.TrimSpace(s.cfg.Census.APIKey) == "" {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CENSUS_NOT_CONFIGURED", "census API key is not configured on the service", false, map[string]any{"setting": "ALIGNCENSUS_CENSUS_API_KEY"})
		return false
	}
	return true
}

func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if !s.censusKeyConfigured(w, r) {
		return
	}
	var request validateRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}

	// Validators hold per-instance state; the shared cache lives in the fetcher.
	result, err := census.NewValidator(s.deps.Metadata).Validate(r.Context(), s.spec(request.DatabaseURL, request.Variable, request.Predicate))
	if err != nil {
		writeCensusError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":         true,
		"database_url":  result.DatabaseURL,
		"variable":      result.Variable,
		"predicate_key": result.PredicateKey,
	})
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.censusKeyConfigured(w, r) {
		return
	}
	var request queryRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	spec := s.spec(request.DatabaseURL, request.Variable, request.Predicate)
	run := newRun(runs.OperationQuery, spec)
	result, err := s.fetch(r.Context(), spec, request.SkipValidation, &run)
	if err != nil {
		writeCensusError(r.Context(), w, err)
		return
	}

	run.Status = runs.StatusSucceeded
	run.RowCount = int64(result.NumRows())
	if _, err := s.recordRun(r.Context(), run); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RUN_RECORD_FAILED", "failed to record run", true, map[string]any{"run_id": run.RunID})
		return
	}
	writeJSON(w, http.StatusOK, tableResponse{
		RunID:    run.RunID,
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: result.NumRows(),
	})
}

func (s *server) handleAlign(w http.ResponseWriter, r *http.Request) {
	if !s.censusKeyConfigured(w, r) {
		return
	}
	var request alignRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid align request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.TableKey) == "" || strings.TrimSpace(request.CensusKey) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "KEYS_REQUIRED", "table_key and census_key are required", false, nil)
		return
	}
	if len(request.Table.Columns) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table with columns is required", false, nil)
		return
	}
	if request.Publish && s.deps.Publisher == nil {
		writeError(r.Context(), w, http.StatusBadRequest, "PUBLISH_NOT_CONFIGURED", "publishing requires an object store", false, nil)
		return
	}

	predicate := request.Predicate
	if strings.TrimSpace(predicate) == "" && strings.TrimSpace(request.PredicateKey) != "" {
		values, err := request.Table.Distinct(request.TableKey)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JOIN", err.Error(), false, nil)
			return
		}
		if len(values) == 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "NO_KEY_VALUES", "table key column has no values to build a predicate from", false, map[string]any{"table_key": request.TableKey})
			return
		}
		predicate = census.BuildPredicate(request.PredicateKey, values)
	}

	spec := s.spec(request.DatabaseURL, request.Variable, predicate)
	run := newRun(runs.OperationAlign, spec)
	fetched, err := s.fetch(r.Context(), spec, request.SkipValidation, &run)
	if err != nil {
		writeCensusError(r.Context(), w, err)
		return
	}

	aligned, err := s.deps.Aligner.Align(r.Context(), request.Table, request.TableKey, fetched, request.CensusKey)
	if err != nil {
		s.recordFailure(r.Context(), run, "invalid_join", err)
		if errors.Is(err, table.ErrInvalidJoin) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JOIN", err.Error(), false, map[string]any{"census_columns": fetched.Columns})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ALIGN_FAILED", err.Error(), false, nil)
		return
	}
	observability.AddAlignedRows(aligned.NumRows())

	var published export.Published
	if request.Publish {
		published, err = s.deps.Publisher.Publish(r.Context(), run.RunID, aligned)
		if err != nil {
			s.recordFailure(r.Context(), run, "publish", err)
			writeError(r.Context(), w, http.StatusBadGateway, "PUBLISH_FAILED", err.Error(), true, map[string]any{"run_id": run.RunID})
			return
		}
	}

	run.Status = runs.StatusSucceeded
	run.RowCount = int64(aligned.NumRows())
	run.ObjectKey = published.ObjectKey
	if _, err := s.recordRun(r.Context(), run); err != nil {
		if published.ObjectKey != "" {
			if discardErr := s.deps.Publisher.Discard(r.Context(), published.ObjectKey); discardErr != nil {
				s.logger().ErrorContext(r.Context(), "discard unrecorded export failed",
					slog.String("run_id", run.RunID),
					slog.String("object_key", published.ObjectKey),
					slog.Any("error", discardErr),
				)
			}
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "RUN_RECORD_FAILED", "failed to record run", true, map[string]any{"run_id": run.RunID})
		return
	}

	writeJSON(w, http.StatusOK, tableResponse{
		RunID:     run.RunID,
		Columns:   aligned.Columns,
		Rows:      aligned.Rows,
		RowCount:  aligned.NumRows(),
		ObjectKey: published.ObjectKey,
	})
}

// fetch validates spec unless skipped and retrieves its data. Failed
// retrievals are recorded against run; validation failures are not.
func (s *server) fetch(ctx context.Context, spec census.QuerySpec, skipValidation bool, run *runs.Run) (table.Table, error) {
	if !skipValidation {
		if _, err := census.NewValidator(s.deps.Metadata).Validate(ctx, spec); err != nil {
			return table.Table{}, err
		}
	}
	request, err := census.BuildRequest(spec)
	if err != nil {
		return table.Table{}, err
	}
	run.Request = census.RedactRequest(request)

	result, err := s.deps.Census.FetchTable(ctx, request)
	if err != nil {
		s.recordFailure(ctx, *run, census.ErrorKind(err), err)
		return table.Table{}, err
	}
	return result, nil
}

func (s *server) recordRun(ctx context.Context, run runs.Run) (runs.Run, error) {
	if s.deps.Runs == nil {
		return run, nil
	}
	recorded, err := s.deps.Runs.RecordRun(ctx, run)
	if err != nil {
		s.logger().ErrorContext(ctx, "record run failed",
			slog.String("run_id", run.RunID),
			slog.Any("error", err),
		)
		return runs.Run{}, err
	}
	return recorded, nil
}

func (s *server) recordFailure(ctx context.Context, run runs.Run, kind string, cause error) {
	run.Status = runs.StatusFailed
	run.ErrorKind = kind
	run.Message = cause.Error()
	_, _ = s.recordRun(ctx, run)
}

func newRun(operation runs.Operation, spec census.QuerySpec) runs.Run {
	return runs.Run{
		RunID:       runs.NewRunID(),
		Operation:   operation,
		DatabaseURL: spec.DatabaseURL,
		Variable:    spec.Variable,
		Predicate:   spec.Predicate,
	}
}

func (s *server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	if !s.censusConfigured(w, r) {
		return
	}
	datasets, err := s.deps.Census.ListDatasets(r.Context(), s.cfg.Census.BaseURL)
	if err != nil {
		writeCensusError(r.Context(), w, err)
		return
	}
	search := r.URL.Query().Get("search")
	matched := census.SearchDatasets(datasets, search)
	writeJSON(w, http.StatusOK, map[string]any{
		"base_url": s.cfg.Census.BaseURL,
		"search":   search,
		"count":    len(matched),
		"datasets": matched,
	})
}

// writeCensusError maps census errors to API error codes. Untyped errors on
// the census paths are transport failures of the data request.
func writeCensusError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		configErr    *census.ConfigurationError
		connErr      *census.ConnectivityError
		endpointErr  *census.InvalidEndpointError
		metadataErr  *census.MetadataError
		variableErr  *census.InvalidVariableError
		malformedErr *census.MalformedPredicateError
		predicateErr *census.InvalidPredicateError
		queryErr     *census.QueryFailedError
		responseErr  *census.MalformedResponseError
	)
	switch {
	case errors.As(err, &configErr):
		writeError(ctx, w, http.StatusBadRequest, "CONFIGURATION_ERROR", err.Error(), false, map[string]any{"field": configErr.Field})
	case errors.As(err, &connErr):
		writeError(ctx, w, http.StatusBadGateway, "CONNECTIVITY_ERROR", err.Error(), true, map[string]any{"url": connErr.URL})
	case errors.As(err, &endpointErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_ENDPOINT", err.Error(), false, map[string]any{"url": endpointErr.URL, "status_code": endpointErr.StatusCode})
	case errors.As(err, &metadataErr):
		writeError(ctx, w, http.StatusBadGateway, "INVALID_METADATA", err.Error(), false, map[string]any{"url": metadataErr.URL})
	case errors.As(err, &variableErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_VARIABLE", err.Error(), false, map[string]any{"variable": variableErr.Variable, "allowed_count": len(variableErr.Allowed)})
	case errors.As(err, &malformedErr):
		writeError(ctx, w, http.StatusBadRequest, "MALFORMED_PREDICATE", err.Error(), false, map[string]any{"predicate": malformedErr.Predicate})
	case errors.As(err, &predicateErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_PREDICATE", err.Error(), false, map[string]any{"predicate_key": predicateErr.Key, "allowed_count": len(predicateErr.Allowed)})
	case errors.As(err, &queryErr):
		writeError(ctx, w, http.StatusBadGateway, "QUERY_FAILED", err.Error(), queryErr.StatusCode >= 500, map[string]any{"status_code": queryErr.StatusCode})
	case errors.As(err, &responseErr):
		writeError(ctx, w, http.StatusBadGateway, "MALFORMED_RESPONSE", err.Error(), false, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", err.Error(), true, nil)
	default:
		writeError(ctx, w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), true, nil)
	}
}
