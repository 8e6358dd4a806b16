package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/RichardoC/localchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newWikipediaServer(t *testing.T, extracts bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("list") == "search":
			assert.Equal(t, "3", q.Get("srlimit"))
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			if q.Get("srsearch") == "nothing" {
				fmt.Fprint(w, `{"query":{"search":[]}}`)
				return
			}
			fmt.Fprint(w, `{"query":{"search":[
				{"title":"Rust (programming language)","pageid":101,"snippet":"<span class=\"searchmatch\">Rust</span> is a language"},
				{"title":"Rust","pageid":202,"snippet":"iron &amp; oxygen"}
			]}}`)
		case q.Get("prop") == "extracts":
			assert.Equal(t, "101|202", q.Get("pageids"))
			if !extracts {
				fmt.Fprint(w, `{"query":{"pages":{}}}`)
				return
			}
			fmt.Fprint(w, `{"query":{"pages":{
				"101":{"pageid":101,"extract":"Rust is a general-purpose programming language."},
				"202":{"pageid":202,"extract":""}
			}}}`)
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	}))
}

func TestWikipediaSearch(t *testing.T) {
	srv := newWikipediaServer(t, true)
	defer srv.Close()

	results, err := NewWikipedia(srv.URL, srv.Client()).Search(context.Background(), "Rust")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, models.SearchResult{
		Title:   "Rust (programming language)",
		Snippet: "Rust is a general-purpose programming language.",
		URL:     "https://en.wikipedia.org/?curid=101",
		Source:  "Wikipedia",
	}, results[0])
	// empty extract falls back to the stripped search snippet
	assert.Equal(t, "iron & oxygen", results[1].Snippet)
}

func TestWikipediaSearchFallsBackToSnippets(t *testing.T) {
	srv := newWikipediaServer(t, false)
	defer srv.Close()

	results, err := NewWikipedia(srv.URL, srv.Client()).Search(context.Background(), "Rust")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Rust is a language", results[0].Snippet)
}

func TestWikipediaNoResults(t *testing.T) {
	srv := newWikipediaServer(t, true)
	defer srv.Close()

	results, err := NewWikipedia(srv.URL, srv.Client()).Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGoogleSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		assert.Equal(t, "cx", r.URL.Query().Get("cx"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		fmt.Fprint(w, `{"items":[
			{"title":"Go","link":"https://go.dev","snippet":"Build simple, secure, scalable systems with Go."},
			{"title":"Go (game)","link":"https://example.com/go","snippet":"Board game."},
			{"title":"Go tour","link":"https://go.dev/tour","snippet":"A tour of Go."},
			{"title":"Extra","link":"https://example.com/extra","snippet":"Dropped."}
		]}`)
	}))
	defer srv.Close()

	g := NewGoogle(srv.URL, Credentials{APIKey: "key", CX: "cx"}, srv.Client(), zaptest.NewLogger(t))
	results, err := g.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, models.SearchResult{
		Title:   "Go",
		Snippet: "Build simple, secure, scalable systems with Go.",
		URL:     "https://go.dev",
		Source:  "Google",
	}, results[0])
}

func TestGoogleWithoutCredentialsReturnsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	g := NewGoogle(srv.URL, Credentials{APIKey: "key"}, srv.Client(), zaptest.NewLogger(t))
	results, err := g.Search(context.Background(), "golang")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, calls.Load())
}

func TestServiceSearchNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "google") {
			http.Error(w, "quota exceeded", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	svc := NewService(NewWikipedia(srv.URL, srv.Client()), srv.URL+"/google", logger)

	results := svc.Search(context.Background(), "Rust", models.ProviderWikipedia, Credentials{})
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results = svc.Search(context.Background(), "Rust", models.ProviderGoogle, Credentials{APIKey: "k", CX: "c"})
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestServiceSearchSelectsProvider(t *testing.T) {
	wiki := newWikipediaServer(t, true)
	defer wiki.Close()

	svc := NewService(NewWikipedia(wiki.URL, wiki.Client()), "", zaptest.NewLogger(t))
	for _, provider := range []string{"", models.ProviderDefault, models.ProviderWikipedia, "unknown"} {
		results := svc.Search(context.Background(), "Rust", provider, Credentials{})
		require.Len(t, results, 2, provider)
		assert.Equal(t, "Wikipedia", results[0].Source)
	}
}

type summarizerFunc func(ctx context.Context, text string) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

func TestSummarizeKeepsOrderAndFallsBack(t *testing.T) {
	svc := NewService(NewWikipedia("", nil), "", zaptest.NewLogger(t))
	in := []models.SearchResult{
		{Title: "a", Snippet: "first long snippet"},
		{Title: "b", Snippet: "broken"},
		{Title: "c", Snippet: "third long snippet"},
	}

	out := svc.Summarize(context.Background(), in, summarizerFunc(func(_ context.Context, text string) (string, error) {
		if text == "broken" {
			return "", errors.New("model busy")
		}
		return "  Summary of " + text + ". Second sentence.  ", nil
	}))

	require.Len(t, out, 3)
	assert.Equal(t, "Summary of first long snippet. Second sentence.", out[0].Snippet)
	assert.Equal(t, "broken", out[1].Snippet)
	assert.Equal(t, "Summary of third long snippet. Second sentence.", out[2].Snippet)
	// input is untouched
	assert.Equal(t, "first long snippet", in[0].Snippet)
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]models.SearchResult{
		{Title: "Rust", Snippet: "A language.", URL: "https://en.wikipedia.org/?curid=1", Source: "Wikipedia"},
		{Title: "Cargo", Snippet: "Its build tool.", URL: "https://en.wikipedia.org/?curid=2", Source: "Wikipedia"},
	}, "Rust")

	want := "Context from web search:\n" +
		"[Wikipedia] Rust: A language. (https://en.wikipedia.org/?curid=1)\n" +
		"[Wikipedia] Cargo: Its build tool. (https://en.wikipedia.org/?curid=2)" +
		"\n\nUser Query: Rust"
	assert.Equal(t, want, got)
}
