package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

const exportRoot = "aligned"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath returns the key of an aligned table published for runID,
// partitioned by the UTC day of at.
func BuildExportPath(runID string, at time.Time) (string, error) {
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		exportRoot,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		runID+".parquet",
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
