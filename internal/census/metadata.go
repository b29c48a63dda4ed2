package census

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// VariableSet is the metadata fetched for one database URL. Variables can
// be requested as output; PredicateKeys can appear before ':' in a
// predicate and is always a superset of Variables.
type VariableSet struct {
	DatabaseURL   string
	Variables     map[string]struct{}
	PredicateKeys map[string]struct{}
}

func newVariableSet(databaseURL string) VariableSet {
	return VariableSet{
		DatabaseURL:   databaseURL,
		Variables:     map[string]struct{}{},
		PredicateKeys: map[string]struct{}{},
	}
}

func (s VariableSet) HasVariable(name string) bool {
	_, ok := s.Variables[name]
	return ok
}

func (s VariableSet) HasPredicateKey(name string) bool {
	_, ok := s.PredicateKeys[name]
	return ok
}

func (s VariableSet) SortedVariables() []string {
	return sortedKeys(s.Variables)
}

func (s VariableSet) SortedPredicateKeys() []string {
	return sortedKeys(s.PredicateKeys)
}

func (s VariableSet) Empty() bool {
	return len(s.PredicateKeys) == 0
}

type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, databaseURL string) (VariableSet, error)
}

// CachingFetcher memoizes successful metadata fetches per database URL and
// is safe for concurrent use. Failures are never cached.
type CachingFetcher struct {
	next MetadataFetcher

	mu      sync.Mutex
	entries map[string]VariableSet
}

func NewCachingFetcher(next MetadataFetcher) *CachingFetcher {
	return &CachingFetcher{next: next, entries: map[string]VariableSet{}}
}

func (c *CachingFetcher) FetchMetadata(ctx context.Context, databaseURL string) (VariableSet, error) {
	key := strings.TrimSpace(databaseURL)
	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	set, err := c.next.FetchMetadata(ctx, databaseURL)
	if err != nil {
		return VariableSet{}, err
	}
	c.mu.Lock()
	c.entries[key] = set
	c.mu.Unlock()
	return set, nil
}

func (c *CachingFetcher) Forget(databaseURL string) {
	c.mu.Lock()
	delete(c.entries, strings.TrimSpace(databaseURL))
	c.mu.Unlock()
}

func sortedKeys(values map[string]struct{}) []string {
	out := make([]string, 0, len(values))
	for value := range values {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
