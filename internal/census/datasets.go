package census

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Dataset is one entry of the API's root catalog.
type Dataset struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Identifier    string   `json:"identifier"`
	Vintage       int      `json:"vintage,omitempty"`
	Path          []string `json:"path,omitempty"`
	AccessURL     string   `json:"access_url,omitempty"`
	VariablesLink string   `json:"variables_link,omitempty"`
}

type catalogEntry struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Identifier    string   `json:"identifier"`
	Vintage       *int     `json:"c_vintage"`
	Path          []string `json:"c_dataset"`
	VariablesLink string   `json:"c_variablesLink"`
	Distribution  []struct {
		AccessURL string `json:"accessURL"`
	} `json:"distribution"`
}

// ListDatasets reads the catalog published at baseURL, typically
// https://api.census.gov/data.
func (c *Client) ListDatasets(ctx context.Context, baseURL string) ([]Dataset, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	status, body, err := c.get(ctx, kindDatasets, baseURL)
	if err != nil {
		return nil, &ConnectivityError{URL: baseURL, Err: err}
	}
	if status != http.StatusOK {
		return nil, &InvalidEndpointError{URL: baseURL, StatusCode: status}
	}

	var catalog struct {
		Dataset []catalogEntry `json:"dataset"`
	}
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, &MetadataError{URL: baseURL, Reason: "decode dataset catalog: " + err.Error()}
	}

	datasets := make([]Dataset, 0, len(catalog.Dataset))
	for _, entry := range catalog.Dataset {
		dataset := Dataset{
			Title:         entry.Title,
			Description:   entry.Description,
			Identifier:    entry.Identifier,
			Path:          entry.Path,
			VariablesLink: entry.VariablesLink,
		}
		if entry.Vintage != nil {
			dataset.Vintage = *entry.Vintage
		}
		if len(entry.Distribution) > 0 {
			dataset.AccessURL = entry.Distribution[0].AccessURL
		}
		datasets = append(datasets, dataset)
	}
	c.logger.InfoContext(ctx, "census catalog loaded", slog.Int("datasets", len(datasets)))
	return datasets, nil
}

// SearchDatasets keeps datasets whose title or description contains term,
// ignoring case. An empty term keeps everything.
func SearchDatasets(datasets []Dataset, term string) []Dataset {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return datasets
	}
	matched := make([]Dataset, 0)
	for _, dataset := range datasets {
		if strings.Contains(strings.ToLower(dataset.Title), term) || strings.Contains(strings.ToLower(dataset.Description), term) {
			matched = append(matched, dataset)
		}
	}
	return matched
}
