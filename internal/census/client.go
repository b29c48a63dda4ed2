// Package census talks to the U.S. Census Data API: it discovers datasets,
// fetches the variable metadata used to validate queries, and retrieves
// query results as tables.
package census

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aligncensus/aligncensus/internal/observability"
	"github.com/aligncensus/aligncensus/internal/table"
)

const (
	kindMetadata  = "metadata"
	kindVariables = "variables"
	kindData      = "data"
	kindDatasets  = "datasets"
)

type ClientConfig struct {
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil; zero leaves requests bounded
	// only by the caller's context.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	client *http.Client
	logger *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{client: client, logger: logger}
}

// FetchMetadata checks that databaseURL answers 200, follows its
// c_variablesLink and splits the advertised names into output variables and
// predicate keys.
func (c *Client) FetchMetadata(ctx context.Context, databaseURL string) (VariableSet, error) {
	status, body, err := c.get(ctx, kindMetadata, databaseURL)
	if err != nil {
		return VariableSet{}, &ConnectivityError{URL: databaseURL, Err: err}
	}
	if status != http.StatusOK {
		return VariableSet{}, &InvalidEndpointError{URL: databaseURL, StatusCode: status}
	}

	var discovery struct {
		Dataset []struct {
			VariablesLink string `json:"c_variablesLink"`
		} `json:"dataset"`
	}
	if err := json.Unmarshal(body, &discovery); err != nil {
		return VariableSet{}, &MetadataError{URL: databaseURL, Reason: "decode dataset document: " + err.Error()}
	}
	if len(discovery.Dataset) == 0 {
		return VariableSet{}, &MetadataError{URL: databaseURL, Reason: "dataset list is empty"}
	}
	link := strings.TrimSpace(discovery.Dataset[0].VariablesLink)
	if link == "" {
		return VariableSet{}, &MetadataError{URL: databaseURL, Reason: "dataset has no c_variablesLink"}
	}

	status, body, err = c.get(ctx, kindVariables, link)
	if err != nil {
		return VariableSet{}, &ConnectivityError{URL: link, Err: err}
	}
	if status != http.StatusOK {
		return VariableSet{}, &InvalidEndpointError{URL: link, StatusCode: status}
	}

	var variables struct {
		Variables map[string]struct {
			PredicateOnly bool `json:"predicateOnly"`
		} `json:"variables"`
	}
	if err := json.Unmarshal(body, &variables); err != nil {
		return VariableSet{}, &MetadataError{URL: link, Reason: "decode variables document: " + err.Error()}
	}

	set := newVariableSet(databaseURL)
	for name, term := range variables.Variables {
		set.PredicateKeys[name] = struct{}{}
		if !term.PredicateOnly {
			set.Variables[name] = struct{}{}
		}
	}
	c.logger.InfoContext(ctx, "census metadata loaded",
		slog.String("database_url", databaseURL),
		slog.Int("variables", len(set.Variables)),
		slog.Int("predicate_keys", len(set.PredicateKeys)),
	)
	return set, nil
}

// FetchTable executes a built request. The first row of the response is the
// header; row widths are not checked against it. Transport failures are
// returned wrapped, not as ConnectivityError.
func (c *Client) FetchTable(ctx context.Context, request string) (table.Table, error) {
	status, body, err := c.get(ctx, kindData, request)
	if err != nil {
		return table.Table{}, fmt.Errorf("request census data: %w", err)
	}
	if status != http.StatusOK {
		return table.Table{}, &QueryFailedError{StatusCode: status, Body: truncateBody(body)}
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var raw [][]any
	if err := decoder.Decode(&raw); err != nil {
		return table.Table{}, &MalformedResponseError{Reason: "expected a JSON array of arrays: " + err.Error()}
	}
	if len(raw) == 0 {
		return table.Table{}, &MalformedResponseError{Reason: "response has no header row"}
	}

	columns := make([]string, len(raw[0]))
	for i, cell := range raw[0] {
		columns[i] = toValue(cell).String
	}
	rows := make([][]table.Value, 0, len(raw)-1)
	for _, rawRow := range raw[1:] {
		row := make([]table.Value, len(rawRow))
		for i, cell := range rawRow {
			row[i] = toValue(cell)
		}
		rows = append(rows, row)
	}
	c.logger.InfoContext(ctx, "census data retrieved",
		slog.String("request", observability.Abbreviate(RedactRequest(request), 150)),
		slog.Int("rows", len(rows)),
		slog.String("columns", strings.Join(columns, ",")),
	)
	return table.Table{Columns: columns, Rows: rows}, nil
}

func (c *Client) get(ctx context.Context, kind, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, redactURLError(err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveCensusRequest(kind, 0, time.Since(start))
		c.logger.DebugContext(ctx, "census request failed",
			slog.String("kind", kind),
			slog.String("url", RedactRequest(target)),
			slog.Any("error", redactURLError(err)),
		)
		return 0, nil, redactURLError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	observability.ObserveCensusRequest(kind, resp.StatusCode, elapsed)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	c.logger.DebugContext(ctx, "census request",
		slog.String("kind", kind),
		slog.String("url", RedactRequest(target)),
		slog.Int("status", resp.StatusCode),
		slog.String("duration", elapsed.String()),
		slog.Int("bytes", len(body)),
	)
	return resp.StatusCode, body, nil
}

// redactURLError keeps the API key out of errors that quote the request URL.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = RedactRequest(urlErr.URL)
	}
	return err
}

func toValue(cell any) table.Value {
	switch typed := cell.(type) {
	case nil:
		return table.Null()
	case string:
		return table.Str(typed)
	case json.Number:
		return table.Str(typed.String())
	case bool:
		return table.Str(strconv.FormatBool(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return table.Str(fmt.Sprint(typed))
		}
		return table.Str(string(encoded))
	}
}
