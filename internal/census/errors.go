package census

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// maxListedValues bounds how many allowed names an error message prints.
const maxListedValues = 25

// ConfigurationError reports a QuerySpec field that was never set.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("census query is missing %s; set it before building or validating the request", e.Field)
}

// ConnectivityError means the endpoint could not be reached at all, so there
// is no HTTP status to report.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

type InvalidEndpointError struct {
	URL        string
	StatusCode int
}

func (e *InvalidEndpointError) Error() string {
	return fmt.Sprintf("database url %s returned status %d; check it against https://api.census.gov/data.html", e.URL, e.StatusCode)
}

// MetadataError means the endpoint answered but its discovery document is
// not usable.
type MetadataError struct {
	URL    string
	Reason string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata from %s is unusable: %s", e.URL, e.Reason)
}

type InvalidVariableError struct {
	DatabaseURL string
	Variable    string
	Allowed     []string
}

func (e *InvalidVariableError) Error() string {
	return fmt.Sprintf("variable %q is not valid for %s; the variable must be one of %s", e.Variable, e.DatabaseURL, formatAllowed(e.Allowed))
}

type MalformedPredicateError struct {
	Predicate string
}

func (e *MalformedPredicateError) Error() string {
	return fmt.Sprintf("predicate %q is malformed; expected name:value[,value...]", e.Predicate)
}

type InvalidPredicateError struct {
	DatabaseURL string
	Key         string
	Allowed     []string
}

func (e *InvalidPredicateError) Error() string {
	return fmt.Sprintf("predicate name %q is not valid for %s; the name must be one of %s", e.Key, e.DatabaseURL, formatAllowed(e.Allowed))
}

// QueryFailedError is a non-200 answer to a data request.
type QueryFailedError struct {
	StatusCode int
	Body       string
}

func (e *QueryFailedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request returned an error response, status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("request returned an error response, status code: %d: %s", e.StatusCode, e.Body)
}

type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "census response is malformed: " + e.Reason
}

// ErrorKind maps an error to a stable label for metrics, run history and
// API error codes.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		configErr    *ConfigurationError
		connErr      *ConnectivityError
		endpointErr  *InvalidEndpointError
		metadataErr  *MetadataError
		variableErr  *InvalidVariableError
		malformedErr *MalformedPredicateError
		predicateErr *InvalidPredicateError
		queryErr     *QueryFailedError
		responseErr  *MalformedResponseError
	)
	switch {
	case errors.As(err, &configErr):
		return "configuration"
	case errors.As(err, &connErr):
		return "connectivity"
	case errors.As(err, &endpointErr):
		return "invalid_endpoint"
	case errors.As(err, &metadataErr):
		return "metadata"
	case errors.As(err, &variableErr):
		return "invalid_variable"
	case errors.As(err, &malformedErr):
		return "malformed_predicate"
	case errors.As(err, &predicateErr):
		return "invalid_predicate"
	case errors.As(err, &queryErr):
		return "query_failed"
	case errors.As(err, &responseErr):
		return "malformed_response"
	default:
		return "internal"
	}
}

func formatAllowed(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	if len(sorted) <= maxListedValues {
		return "[" + strings.Join(sorted, ", ") + "]"
	}
	return fmt.Sprintf("[%s, ... and %d more]", strings.Join(sorted[:maxListedValues], ", "), len(sorted)-maxListedValues)
}

func truncateBody(body []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
