package census

import (
	"context"
	"strings"

	"github.com/aligncensus/aligncensus/internal/observability"
)

type ValidationResult struct {
	DatabaseURL  string `json:"database_url"`
	Variable     string `json:"variable"`
	PredicateKey string `json:"predicate_key"`
	// Reused is true when the metadata came from an earlier check.
	Reused bool `json:"reused"`
}

// Validator checks a QuerySpec against the metadata of its database. It keeps
// the metadata of the last database it checked and replaces it when the URL
// changes. A Validator is not safe for concurrent use; share a
// CachingFetcher between validators instead.
type Validator struct {
	fetcher  MetadataFetcher
	metadata *VariableSet
}

func NewValidator(fetcher MetadataFetcher) *Validator {
	return &Validator{fetcher: fetcher}
}

// NewValidatorWithMetadata starts from already fetched metadata.
func NewValidatorWithMetadata(fetcher MetadataFetcher, set VariableSet) *Validator {
	return &Validator{fetcher: fetcher, metadata: &set}
}

// Validate runs the URL, variable and predicate checks in that order and
// returns the first failure.
func (v *Validator) Validate(ctx context.Context, spec QuerySpec) (ValidationResult, error) {
	result, err := v.validate(ctx, spec)
	if err != nil {
		observability.IncrementValidationFailure(ErrorKind(err))
		return ValidationResult{}, err
	}
	return result, nil
}

func (v *Validator) validate(ctx context.Context, spec QuerySpec) (ValidationResult, error) {
	if err := spec.Check(); err != nil {
		return ValidationResult{}, err
	}

	reused := v.metadata != nil && sameURL(v.metadata.DatabaseURL, spec.DatabaseURL)
	if !reused {
		if err := v.Refresh(ctx, spec.DatabaseURL); err != nil {
			return ValidationResult{}, err
		}
	}
	set := *v.metadata

	if !set.HasVariable(spec.Variable) {
		return ValidationResult{}, &InvalidVariableError{
			DatabaseURL: spec.DatabaseURL,
			Variable:    spec.Variable,
			Allowed:     set.SortedVariables(),
		}
	}

	key, err := splitPredicate(spec.Predicate)
	if err != nil {
		return ValidationResult{}, err
	}
	if !set.HasPredicateKey(key) {
		return ValidationResult{}, &InvalidPredicateError{
			DatabaseURL: spec.DatabaseURL,
			Key:         key,
			Allowed:     set.SortedPredicateKeys(),
		}
	}

	return ValidationResult{
		DatabaseURL:  spec.DatabaseURL,
		Variable:     spec.Variable,
		PredicateKey: key,
		Reused:       reused,
	}, nil
}

// Refresh fetches metadata for databaseURL and replaces what the validator
// holds. On failure the previous metadata is dropped.
func (v *Validator) Refresh(ctx context.Context, databaseURL string) error {
	v.metadata = nil
	set, err := v.fetcher.FetchMetadata(ctx, databaseURL)
	if err != nil {
		return err
	}
	v.metadata = &set
	return nil
}

// Metadata returns the held metadata, if any.
func (v *Validator) Metadata() (VariableSet, bool) {
	if v.metadata == nil {
		return VariableSet{}, false
	}
	return *v.metadata, true
}

func sameURL(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
