package census

import (
	"fmt"
	"regexp"
	"strings"
)

// QuerySpec holds the parts of one data request. Fields may be filled in any
// order; completeness is only enforced when a request is built or validated.
type QuerySpec struct {
	DatabaseURL string `json:"database_url"`
	Variable    string `json:"variable"`
	Predicate   string `json:"predicate"`
	APIKey      string `json:"-"`
}

// Check reports the first unset field.
func (s QuerySpec) Check() error {
	switch {
	case strings.TrimSpace(s.DatabaseURL) == "":
		return &ConfigurationError{Field: "database_url"}
	case strings.TrimSpace(s.Variable) == "":
		return &ConfigurationError{Field: "variable"}
	case strings.TrimSpace(s.Predicate) == "":
		return &ConfigurationError{Field: "predicate"}
	case strings.TrimSpace(s.APIKey) == "":
		return &ConfigurationError{Field: "api_key"}
	}
	return nil
}

// BuildRequest slots the query into the data endpoint template. Nothing is
// escaped: values needing URL encoding must arrive encoded.
func BuildRequest(spec QuerySpec) (string, error) {
	if err := spec.Check(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s?get=%s&for=%s&key=%s", spec.DatabaseURL, spec.Variable, spec.Predicate, spec.APIKey), nil
}

var keyParamPattern = regexp.MustCompile(`([?&]key=)[^&]*`)

func RedactRequest(request string) string {
	return keyParamPattern.ReplaceAllString(request, "${1}REDACTED")
}

// BuildPredicate renders name:v1,v2,... from distinct non-empty values,
// keeping first-seen order.
func BuildPredicate(name string, values []string) string {
	seen := make(map[string]struct{}, len(values))
	kept := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		kept = append(kept, value)
	}
	return strings.TrimSpace(name) + ":" + strings.Join(kept, ",")
}

// splitPredicate returns the name before the first ':'. A predicate without
// a name or without values is malformed.
func splitPredicate(predicate string) (string, error) {
	idx := strings.Index(predicate, ":")
	if idx <= 0 || idx == len(predicate)-1 {
		return "", &MalformedPredicateError{Predicate: predicate}
	}
	return predicate[:idx], nil
}
