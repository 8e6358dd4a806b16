// Package budget fits outbound prompt text into a model's context window.
//
// Tokens are approximated as four characters each and a fifth of the window
// is kept back for the system prompt and the response.
package budget

import (
	"strings"
	"unicode/utf8"
)

const (
	charsPerToken = 4
	reservePct    = 20

	ContextHeader = "Context from web search:\n"
	QuerySep      = "\n\nUser Query: "
	Marker        = "\n...[truncated]"
)

type Budget struct {
	Window int // context window in tokens; <= 0 means unlimited
}

// Chars is the number of characters the outbound text may use.
func (b Budget) Chars() int {
	if b.Window <= 0 {
		return 0
	}
	return b.Window * (100 - reservePct) / 100 * charsPerToken
}

type Result struct {
	Text      string
	Truncated bool
}

// Fit shrinks text to the budget. Injected search context is shrunk before
// the user's own words are touched.
func (b Budget) Fit(text string) Result {
	limit := b.Chars()
	if b.Window <= 0 || runeLen(text) <= limit {
		return Result{Text: text}
	}

	if ctx, query, ok := split(text); ok {
		if out, ok := fitAugmented(ctx, query, limit); ok {
			return Result{Text: out, Truncated: true}
		}
	}

	// windows too small for the marker get a bare cut
	if limit < runeLen(Marker) {
		return Result{Text: cut(text, limit), Truncated: true}
	}
	return Result{Text: cut(text, limit-runeLen(Marker)) + Marker, Truncated: true}
}

// split separates an augmented prompt into its context body and raw query.
func split(text string) (ctx, query string, ok bool) {
	if !strings.HasPrefix(text, ContextHeader) {
		return "", "", false
	}
	body := text[len(ContextHeader):]
	i := strings.Index(body, QuerySep)
	if i < 0 {
		return "", "", false
	}
	return body[:i], body[i+len(QuerySep):], true
}

func fitAugmented(ctx, query string, limit int) (string, bool) {
	room := limit - runeLen(ContextHeader) - runeLen(Marker) - runeLen(QuerySep) - runeLen(query)
	if room >= 0 {
		return ContextHeader + cut(ctx, room) + Marker + QuerySep + query, true
	}

	// no room for any context; keep the query segment on its own
	segment := strings.TrimPrefix(QuerySep, "\n\n") + query
	if runeLen(segment) <= limit {
		return segment, true
	}
	return "", false
}

func cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if runeLen(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
