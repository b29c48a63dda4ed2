package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "grafana", "aligncensus_dashboard.json")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dashboard file: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "prometheus", "aligncensus_rules.yaml")

	requiredAlerts := []string{
		"AlignCensusHTTPErrorRateHigh",
		"AlignCensusUpstreamLatencyP95High",
		"AlignCensusUpstreamErrorRateHigh",
		"AlignCensusUpstreamUnreachable",
		"AlignCensusMissingAPIKey",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}

	requiredMetrics := []string{
		"aligncensus:slo_http_error_rate_5m",
		"aligncensus:slo_census_latency_seconds_p95",
		"aligncensus:slo_census_error_rate_5m",
		"aligncensus:slo_census_transport_errors_15m",
		"aligncensus:slo_validation_failures_15m",
	}
	for _, metricName := range requiredMetrics {
		matched, err := regexp.MatchString(regexp.QuoteMeta(metricName), text)
		if err != nil {
			t.Fatalf("regexp error for metric %q: %v", metricName, err)
		}
		if !matched {
			t.Fatalf("rules missing metric reference %q", metricName)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "prometheus", "prometheus-scrape.example.yaml")

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"aligncensus_rules.yaml",
		"aligncensus_recording_rules.yaml",
		"job_name: aligncensus-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func TestRecordingRulesOnlyUseExportedMetrics(t *testing.T) {
	text := readAsset(t, "prometheus", "aligncensus_recording_rules.yaml")

	exported := map[string]bool{
		"aligncensus_http_requests_total":                    true,
		"aligncensus_http_request_duration_seconds":          true,
		"aligncensus_census_requests_total":                  true,
		"aligncensus_census_request_duration_seconds_bucket": true,
		"aligncensus_validation_failures_total":              true,
		"aligncensus_aligned_rows_total":                     true,
	}
	for _, name := range regexp.MustCompile(`aligncensus_[a-z_]+`).FindAllString(text, -1) {
		if !exported[name] {
			t.Fatalf("recording rules reference unknown metric %q", name)
		}
	}
	if !strings.Contains(text, "record: aligncensus:slo_http_error_rate_5m") {
		t.Fatal("recording rules missing http error rate")
	}
}

func readAsset(t *testing.T, dir, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(repoRoot(t), "deployments", "observability", dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(content)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
