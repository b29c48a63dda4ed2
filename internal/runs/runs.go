// Package runs records the census fetches performed by the service.
package runs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("runs: not found")

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Operation names the service call that produced a run.
type Operation string

const (
	OperationQuery Operation = "query"
	OperationAlign Operation = "align"
)

type Run struct {
	RunID       string    `json:"run_id"`
	Operation   Operation `json:"operation"`
	DatabaseURL string    `json:"database_url"`
	Variable    string    `json:"variable"`
	Predicate   string    `json:"predicate"`
	// Request is the data request with its key redacted.
	Request   string    `json:"request"`
	Status    Status    `json:"status"`
	RowCount  int64     `json:"row_count"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	ObjectKey string    `json:"object_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository interface {
	RecordRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	HealthCheck(ctx context.Context) error
}

func NewRunID() string {
	return uuid.NewString()
}

// ValidRunID reports whether id parses as a UUID.
func ValidRunID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
