package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("aligncensus-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Census.BaseURL != "https://api.census.gov/data" {
		t.Fatalf("Census.BaseURL = %q", cfg.Census.BaseURL)
	}
	if cfg.Census.Timeout != 30*time.Second {
		t.Fatalf("Census.Timeout = %s", cfg.Census.Timeout)
	}
	if cfg.Align.Engine != AlignEngineMemory {
		t.Fatalf("Align.Engine = %q", cfg.Align.Engine)
	}
	if cfg.Catalog.DSN != "" {
		t.Fatalf("Catalog.DSN = %q, want empty", cfg.Catalog.DSN)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"ALIGNCENSUS_PROFILE": "prod"})
	cfg, err := Load("aligncensus-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"ALIGNCENSUS_PROFILE":                       "test",
		"ALIGNCENSUS_HTTP_ADDR":                     ":9999",
		"ALIGNCENSUS_HTTP_READ_TIMEOUT":             "2s",
		"ALIGNCENSUS_HTTP_WRITE_TIMEOUT":            "3s",
		"ALIGNCENSUS_LOG_LEVEL":                     "error",
		"ALIGNCENSUS_AUTH_REQUIRED":                 "true",
		"ALIGNCENSUS_AUTH_STATIC_KEYS":              "k1:analyst:census_reader",
		"ALIGNCENSUS_SERVICE_NAME":                  "aligncensus-custom",
		"ALIGNCENSUS_CENSUS_BASE_URL":               "http://census.internal/data",
		"ALIGNCENSUS_CENSUS_API_KEY":                " secret ",
		"ALIGNCENSUS_CENSUS_TIMEOUT":                "12s",
		"ALIGNCENSUS_ALIGN_ENGINE":                  "DuckDB",
		"ALIGNCENSUS_CATALOG_DSN":                   "postgres://example",
		"ALIGNCENSUS_CATALOG_MAX_OPEN_CONNS":        "42",
		"ALIGNCENSUS_CATALOG_MAX_IDLE_CONNS":        "17",
		"ALIGNCENSUS_OBJECTSTORE_ENABLED":           "true",
		"ALIGNCENSUS_OBJECTSTORE_ENDPOINT":          "s3.example.com",
		"ALIGNCENSUS_OBJECTSTORE_BUCKET":            "census-exports",
		"ALIGNCENSUS_OBJECTSTORE_REGION":            "us-west-2",
		"ALIGNCENSUS_OBJECTSTORE_USE_SSL":           "true",
		"ALIGNCENSUS_OBJECTSTORE_PREFIX":            "exports",
		"ALIGNCENSUS_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
	})
	cfg, err := Load("aligncensus-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "aligncensus-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Census.BaseURL != "http://census.internal/data" {
		t.Fatalf("Census.BaseURL = %q", cfg.Census.BaseURL)
	}
	if cfg.Census.APIKey != "secret" {
		t.Fatalf("Census.APIKey = %q", cfg.Census.APIKey)
	}
	if cfg.Census.Timeout != 12*time.Second {
		t.Fatalf("Census.Timeout = %s", cfg.Census.Timeout)
	}
	if cfg.Align.Engine != AlignEngineDuckDB {
		t.Fatalf("Align.Engine = %q", cfg.Align.Engine)
	}
	if cfg.Catalog.DSN != "postgres://example" {
		t.Fatalf("Catalog.DSN = %q", cfg.Catalog.DSN)
	}
	if cfg.Catalog.MaxOpenConns != 42 || cfg.Catalog.MaxIdleConns != 17 {
		t.Fatalf("Catalog conns = %d/%d", cfg.Catalog.MaxOpenConns, cfg.Catalog.MaxIdleConns)
	}
	if !cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled = false, want true")
	}
	if cfg.ObjectStore.Bucket != "census-exports" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if cfg.ObjectStore.Prefix != "exports" {
		t.Fatalf("ObjectStore.Prefix = %q", cfg.ObjectStore.Prefix)
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket = true, want false")
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ALIGNCENSUS_PROFILE": "oops"},
		{"ALIGNCENSUS_HTTP_READ_TIMEOUT": "NaN"},
		{"ALIGNCENSUS_CENSUS_TIMEOUT": "soon"},
		{"ALIGNCENSUS_CENSUS_BASE_URL": "  "},
		{"ALIGNCENSUS_ALIGN_ENGINE": "spark"},
		{"ALIGNCENSUS_CATALOG_MAX_OPEN_CONNS": "oops"},
		{"ALIGNCENSUS_OBJECTSTORE_ENABLED": "maybe"},
		{"ALIGNCENSUS_AUTH_REQUIRED": "not-bool"},
		{"ALIGNCENSUS_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("aligncensus-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
