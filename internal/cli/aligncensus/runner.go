// Package aligncensus implements the aligncensus command line tool.
package aligncensus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aligncensus/aligncensus/internal/census"
	"github.com/aligncensus/aligncensus/internal/export"
	"github.com/aligncensus/aligncensus/internal/observability"
	"github.com/aligncensus/aligncensus/internal/table"
	"github.com/aligncensus/aligncensus/internal/table/duckdb"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type Options struct {
	// BaseURL is the census catalog root used by the datasets command.
	BaseURL    string
	APIKey     string
	Engine     string
	Timeout    time.Duration
	ServiceURL string
	ServiceKey string
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type runner struct {
	opts    Options
	stdout  io.Writer
	stderr  io.Writer
	client  *census.Client
	aligner table.Aligner
	logger  *slog.Logger
	apiKey  string
	baseURL string
	http    *http.Client
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the command fails and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("aligncensus", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { writeUsage(stderr) }

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "https://api.census.gov/data"), "census API catalog root")
	apiKey := fs.String("key", defaults.APIKey, "census API key")
	engine := fs.String("engine", firstNonEmpty(defaults.Engine, "memory"), "alignment engine: memory|duckdb")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	logLevel := fs.String("log-level", "warn", "log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return exitUsage
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid -log-level %q\n", *logLevel)
		return exitUsage
	}
	aligner, err := newAligner(*engine)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return exitUsage
	}

	httpClient := defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: *timeout}
	}
	logger := observability.NewCLILogger(level, stderr)
	r := &runner{
		opts:    defaults,
		stdout:  stdout,
		stderr:  stderr,
		client:  census.NewClient(census.ClientConfig{HTTPClient: httpClient, Logger: logger}),
		aligner: aligner,
		logger:  logger,
		apiKey:  strings.TrimSpace(*apiKey),
		baseURL: strings.TrimSpace(*baseURL),
		http:    httpClient,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var run func(context.Context, []string) error
	switch command {
	case "validate":
		run = r.validate
	case "build":
		run = r.build
	case "fetch":
		run = r.fetch
	case "align":
		run = r.align
	case "datasets":
		run = r.datasets
	case "runs":
		run = r.runs
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return exitUsage
	}

	if err := run(ctx, rest); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return exitUsage
		}
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

var errUsage = errors.New("usage")

func newAligner(engine string) (table.Aligner, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "memory", "":
		return table.NewLeftJoin(), nil
	case "duckdb":
		return duckdb.NewAligner(), nil
	default:
		return nil, fmt.Errorf("invalid -engine %q: expected memory or duckdb", engine)
	}
}

type queryFlags struct {
	databaseURL *string
	variable    *string
	predicate   *string
}

func (r *runner) queryFlagSet(name string) (*flag.FlagSet, queryFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(r.stderr)
	return fs, queryFlags{
		databaseURL: fs.String("url", "", "dataset URL, e.g. https://api.census.gov/data/2020/acs/acs5"),
		variable:    fs.String("variable", "", "variable to retrieve"),
		predicate:   fs.String("predicate", "", "predicate name:value[,value...]"),
	}
}

func (r *runner) spec(q queryFlags, predicate string) census.QuerySpec {
	return census.QuerySpec{
		DatabaseURL: strings.TrimSpace(*q.databaseURL),
		Variable:    strings.TrimSpace(*q.variable),
		Predicate:   strings.TrimSpace(predicate),
		APIKey:      r.apiKey,
	}
}

func (r *runner) validate(ctx context.Context, args []string) error {
	fs, q := r.queryFlagSet("validate")
	if err := parse(fs, args); err != nil {
		return err
	}
	result, err := census.NewValidator(r.client).Validate(ctx, r.spec(q, *q.predicate))
	if err != nil {
		return err
	}
	return writeJSONTo(r.stdout, map[string]any{
		"valid":         true,
		"database_url":  result.DatabaseURL,
		"variable":      result.Variable,
		"predicate_key": result.PredicateKey,
	})
}

func (r *runner) build(_ context.Context, args []string) error {
	fs, q := r.queryFlagSet("build")
	showKey := fs.Bool("show-key", false, "print the API key instead of redacting it")
	if err := parse(fs, args); err != nil {
		return err
	}
	request, err := census.BuildRequest(r.spec(q, *q.predicate))
	if err != nil {
		return err
	}
	if !*showKey {
		request = census.RedactRequest(request)
	}
	_, err = fmt.Fprintln(r.stdout, request)
	return err
}

func (r *runner) fetch(ctx context.Context, args []string) error {
	fs, q := r.queryFlagSet("fetch")
	skipValidate := fs.Bool("skip-validate", false, "skip metadata validation")
	format := fs.String("format", "csv", "output format: csv|json|parquet")
	out := fs.String("out", "", "output file (default stdout)")
	if err := parse(fs, args); err != nil {
		return err
	}
	result, err := r.retrieve(ctx, r.spec(q, *q.predicate), *skipValidate)
	if err != nil {
		return err
	}
	return r.writeTable(result, *format, *out)
}

func (r *runner) align(ctx context.Context, args []string) error {
	fs, q := r.queryFlagSet("align")
	dataPath := fs.String("data", "", "CSV file to align, or - for stdin")
	dataKey := fs.String("data-key", "", "key column of the CSV")
	censusKey := fs.String("census-key", "", "key column of the census result (default: predicate name)")
	predicateKey := fs.String("predicate-key", "", "build the predicate from distinct -data-key values under this name")
	skipValidate := fs.Bool("skip-validate", false, "skip metadata validation")
	format := fs.String("format", "csv", "output format: csv|json|parquet")
	out := fs.String("out", "", "output file (default stdout)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*dataPath) == "" || strings.TrimSpace(*dataKey) == "" {
		_, _ = fmt.Fprintln(r.stderr, "align requires -data and -data-key")
		return errUsage
	}

	data, err := r.readData(*dataPath)
	if err != nil {
		return err
	}

	predicate := strings.TrimSpace(*q.predicate)
	if predicate == "" && strings.TrimSpace(*predicateKey) != "" {
		values, err := data.Distinct(*dataKey)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return fmt.Errorf("column %q has no values to build a predicate from", *dataKey)
		}
		predicate = census.BuildPredicate(*predicateKey, values)
		r.logger.Info("predicate derived from data", slog.String("predicate", observability.Abbreviate(predicate, 120)), slog.Int("values", len(values)))
	}

	key := strings.TrimSpace(*censusKey)
	if key == "" {
		if idx := strings.Index(predicate, ":"); idx > 0 {
			key = predicate[:idx]
		}
	}

	fetched, err := r.retrieve(ctx, r.spec(q, predicate), *skipValidate)
	if err != nil {
		return err
	}
	aligned, err := r.aligner.Align(ctx, data, *dataKey, fetched, key)
	if err != nil {
		return err
	}
	r.logger.Info("datasets aligned",
		slog.Int("data_rows", data.NumRows()),
		slog.Int("census_rows", fetched.NumRows()),
		slog.Int("aligned_rows", aligned.NumRows()),
	)
	return r.writeTable(aligned, *format, *out)
}

func (r *runner) datasets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ContinueOnError)
	fs.SetOutput(r.stderr)
	search := fs.String("search", "", "case-insensitive title/description filter")
	if err := parse(fs, args); err != nil {
		return err
	}
	datasets, err := r.client.ListDatasets(ctx, r.baseURL)
	if err != nil {
		return err
	}
	return writeJSONTo(r.stdout, census.SearchDatasets(datasets, *search))
}

// runs lists run history from a running aligncensus-api.
func (r *runner) runs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(r.stderr)
	serviceURL := fs.String("api-url", firstNonEmpty(r.opts.ServiceURL, "http://localhost:8080"), "aligncensus-api base URL")
	serviceKey := fs.String("api-key", r.opts.ServiceKey, "aligncensus-api key")
	limit := fs.Int("limit", 20, "number of runs to list")
	if err := parse(fs, args); err != nil {
		return err
	}

	endpoint := strings.TrimRight(*serviceURL, "/") + "/v1/runs?limit=" + url.QueryEscape(strconv.Itoa(*limit))
	code, body, err := doRequest(ctx, r.http, endpoint, *serviceKey)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if code >= 400 {
		return fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(body)))
	}
	if pretty, ok := prettyJSON(body); ok {
		_, err = fmt.Fprintln(r.stdout, pretty)
		return err
	}
	_, err = r.stdout.Write(body)
	return err
}

func (r *runner) retrieve(ctx context.Context, spec census.QuerySpec, skipValidate bool) (table.Table, error) {
	if !skipValidate {
		if _, err := census.NewValidator(r.client).Validate(ctx, spec); err != nil {
			return table.Table{}, err
		}
	}
	request, err := census.BuildRequest(spec)
	if err != nil {
		return table.Table{}, err
	}
	return r.client.FetchTable(ctx, request)
}

func (r *runner) readData(path string) (table.Table, error) {
	if path == "-" {
		stdin := r.opts.Stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		return table.ReadCSV(stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return table.Table{}, fmt.Errorf("open data: %w", err)
	}
	defer func() { _ = file.Close() }()
	data, err := table.ReadCSV(file)
	if err != nil {
		return table.Table{}, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (r *runner) writeTable(t table.Table, format, out string) error {
	var payload bytes.Buffer
	switch strings.ToLower(format) {
	case "csv":
		if err := table.WriteCSV(&payload, t); err != nil {
			return err
		}
	case "json":
		if err := writeJSONTo(&payload, t); err != nil {
			return err
		}
	case "parquet":
		if out == "" {
			_, _ = fmt.Fprintln(r.stderr, "parquet output requires -out")
			return errUsage
		}
		encoded, err := export.EncodeParquet(t)
		if err != nil {
			return err
		}
		payload.Write(encoded.Data)
	default:
		_, _ = fmt.Fprintf(r.stderr, "invalid -format %q\n", format)
		return errUsage
	}

	if out == "" {
		_, err := payload.WriteTo(r.stdout)
		return err
	}
	if err := os.WriteFile(out, payload.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	r.logger.Info("table written", slog.String("path", out), slog.Int("rows", t.NumRows()))
	return nil
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(fs.Output(), "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return errUsage
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, endpoint, apiKey string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func writeJSONTo(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: aligncensus [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  validate   check -url, -variable and -predicate against dataset metadata")
	_, _ = fmt.Fprintln(w, "  build      print the request URL for a query")
	_, _ = fmt.Fprintln(w, "  fetch      retrieve a query result as CSV, JSON or Parquet")
	_, _ = fmt.Fprintln(w, "  align      left-join a CSV file with a query result")
	_, _ = fmt.Fprintln(w, "  datasets   list datasets published under -base-url")
	_, _ = fmt.Fprintln(w, "  runs       list run history from an aligncensus-api")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
