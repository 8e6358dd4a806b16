// Package search looks up web snippets used to augment a prompt.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/RichardoC/localchat/internal/budget"
	"github.com/RichardoC/localchat/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxResults = 3

type Provider interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// Credentials configure the Google provider.
type Credentials struct {
	APIKey string
	CX     string
}

// Summarizer rewrites text into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Service struct {
	wikipedia Provider
	google    func(Credentials) Provider
	logger    *zap.Logger
}

func NewService(wikipedia *Wikipedia, googleURL string, logger *zap.Logger) *Service {
	return &Service{
		wikipedia: wikipedia,
		google: func(creds Credentials) Provider {
			return NewGoogle(googleURL, creds, wikipedia.client, logger)
		},
		logger: logger,
	}
}

// Search never fails: provider errors are logged and produce no results so
// the turn can continue without augmentation.
func (s *Service) Search(ctx context.Context, query, provider string, creds Credentials) []models.SearchResult {
	var p Provider
	switch provider {
	case models.ProviderGoogle:
		p = s.google(creds)
	default:
		p = s.wikipedia
		provider = models.ProviderWikipedia
	}

	results, err := p.Search(ctx, query)
	if err != nil {
		s.logger.Warn("web search failed",
			zap.String("provider", provider),
			zap.Error(err))
		return []models.SearchResult{}
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	s.logger.Debug("web search finished",
		zap.String("provider", provider),
		zap.Int("results", len(results)))
	return results
}

// Summarize rewrites every snippet into two sentences. A failed summary keeps
// the original snippet.
func (s *Service) Summarize(ctx context.Context, results []models.SearchResult, summarizer Summarizer) []models.SearchResult {
	out := make([]models.SearchResult, len(results))
	copy(out, results)

	g, gctx := errgroup.WithContext(ctx)
	for i := range out {
		g.Go(func() error {
			summary, err := summarizer.Summarize(gctx, out[i].Snippet)
			if err != nil {
				s.logger.Warn("snippet summarization failed",
					zap.String("title", out[i].Title),
					zap.Error(err))
				return nil
			}
			if summary = strings.TrimSpace(summary); summary != "" {
				out[i].Snippet = summary
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// BuildContext assembles the augmented prompt for a query.
func BuildContext(results []models.SearchResult, query string) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s (%s)", r.Source, r.Title, r.Snippet, r.URL))
	}
	return budget.ContextHeader + strings.Join(lines, "\n") + budget.QuerySep + query
}
