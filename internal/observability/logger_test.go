package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aligncensus/aligncensus/internal/config"
)

func TestNewLoggerTagsServiceAndProfile(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "aligncensus-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	NewLogger(cfg, &buf).Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["service"] != "aligncensus-api" || record["profile"] != "test" {
		t.Fatalf("record = %#v", record)
	}
}

func TestNewCLILoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCLILogger(slog.LevelWarn, &buf)
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(buf.String(), "quiet") {
		t.Fatalf("info record leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("warn record missing: %s", buf.String())
	}
}

func TestAbbreviateKeepsRunesWhole(t *testing.T) {
	if got := Abbreviate("zipcode:10001", 20); got != "zipcode:10001" {
		t.Fatalf("Abbreviate() short = %q", got)
	}
	if got := Abbreviate("abcdef", 3); got != "abc..." {
		t.Fatalf("Abbreviate() = %q", got)
	}
	got := Abbreviate("Bayamón Municipio", 6)
	if got != "Bayamó..." {
		t.Fatalf("Abbreviate() multi-byte = %q", got)
	}
	if !utf8.ValidString(Abbreviate("ñññññ", 2)) {
		t.Fatal("Abbreviate() split a rune")
	}
}
