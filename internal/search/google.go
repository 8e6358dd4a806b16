package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/RichardoC/localchat/internal/models"
	"go.uber.org/zap"
)

const DefaultGoogleURL = "https://www.googleapis.com/customsearch/v1"

// Google queries the Custom Search JSON API.
type Google struct {
	endpoint string
	creds    Credentials
	client   *http.Client
	logger   *zap.Logger
}

func NewGoogle(endpoint string, creds Credentials, client *http.Client, logger *zap.Logger) *Google {
	if endpoint == "" {
		endpoint = DefaultGoogleURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Google{endpoint: endpoint, creds: creds, client: client, logger: logger}
}

func (g *Google) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if g.creds.APIKey == "" || g.creds.CX == "" {
		// a configuration gap, not a failure
		g.logger.Warn("google search requires an API key and a search engine id")
		return []models.SearchResult{}, nil
	}

	params := url.Values{
		"key": {g.creds.APIKey},
		"cx":  {g.creds.CX},
		"q":   {query},
		"num": {strconv.Itoa(maxResults)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("google API error: %s - %s", resp.Status, string(body))
	}

	var data struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}

	results := make([]models.SearchResult, 0, maxResults)
	for _, item := range data.Items {
		if len(results) == maxResults {
			break
		}
		results = append(results, models.SearchResult{
			Title:   item.Title,
			Snippet: item.Snippet,
			URL:     item.Link,
			Source:  "Google",
		})
	}
	return results, nil
}
