package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/RichardoC/localchat/internal/models"
)

const (
	DefaultWikipediaURL = "https://en.wikipedia.org/w/api.php"

	userAgent = "localchat/1.0 (local chat client)"
)

type Wikipedia struct {
	endpoint string
	client   *http.Client
}

func NewWikipedia(endpoint string, client *http.Client) *Wikipedia {
	if endpoint == "" {
		endpoint = DefaultWikipediaURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Wikipedia{endpoint: endpoint, client: client}
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			PageID  int64  `json:"pageid"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

type wikiExtractsResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID  int64  `json:"pageid"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// Search finds the top pages for query and uses their plain-text intro as
// the snippet.
func (w *Wikipedia) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	var found wikiSearchResponse
	err := w.get(ctx, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"prop":     {"info"},
		"inprop":   {"url"},
		"utf8":     {""},
		"format":   {"json"},
		"srlimit":  {strconv.Itoa(maxResults)},
		"srsearch": {query},
	}, &found)
	if err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}
	if len(found.Query.Search) == 0 {
		return []models.SearchResult{}, nil
	}

	ids := make([]string, 0, len(found.Query.Search))
	for _, r := range found.Query.Search {
		ids = append(ids, strconv.FormatInt(r.PageID, 10))
	}

	var extracts wikiExtractsResponse
	err = w.get(ctx, url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"exintro":     {""},
		"explaintext": {""},
		"pageids":     {strings.Join(ids, "|")},
		"format":      {"json"},
	}, &extracts)
	if err != nil {
		return nil, fmt.Errorf("wikipedia extracts: %w", err)
	}

	results := make([]models.SearchResult, 0, len(found.Query.Search))
	for _, r := range found.Query.Search {
		id := strconv.FormatInt(r.PageID, 10)
		snippet := strings.TrimSpace(extracts.Query.Pages[id].Extract)
		if snippet == "" {
			snippet = stripHTML(r.Snippet)
		}
		results = append(results, models.SearchResult{
			Title:   r.Title,
			Snippet: snippet,
			URL:     "https://en.wikipedia.org/?curid=" + id,
			Source:  "Wikipedia",
		})
	}
	return results, nil
}

func (w *Wikipedia) get(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// stripHTML removes markup from search snippets.
func stripHTML(s string) string {
	var result strings.Builder
	inTag := false

	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	text := result.String()
	text = strings.ReplaceAll(text, "&quot;", "\"")
	text = strings.ReplaceAll(text, "&#039;", "'")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&amp;", "&")
	return text
}
