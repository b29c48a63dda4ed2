package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aligncensus/aligncensus/internal/cli/aligncensus"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("ALIGNCENSUS_CENSUS_TIMEOUT")), 30*time.Second)
	options := aligncensus.Options{
		BaseURL:    envOr("ALIGNCENSUS_CENSUS_BASE_URL", "https://api.census.gov/data"),
		APIKey:     strings.TrimSpace(os.Getenv("ALIGNCENSUS_CENSUS_API_KEY")),
		Engine:     envOr("ALIGNCENSUS_ALIGN_ENGINE", "memory"),
		Timeout:    timeout,
		ServiceURL: envOr("ALIGNCENSUS_API_URL", "http://localhost:8080"),
		ServiceKey: strings.TrimSpace(os.Getenv("ALIGNCENSUS_API_KEY")),
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := aligncensus.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid ALIGNCENSUS_CENSUS_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
