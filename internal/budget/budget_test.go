package budget

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func augmented(ctxLen int, query string) string {
	return ContextHeader + strings.Repeat("c", ctxLen) + QuerySep + query
}

func TestChars(t *testing.T) {
	assert.Equal(t, 13104, Budget{Window: 4096}.Chars())
	assert.Equal(t, 0, Budget{}.Chars())
}

func TestFitPassesThroughWhenWithinBudget(t *testing.T) {
	b := Budget{Window: 4096}
	res := b.Fit("Hello")
	assert.Equal(t, Result{Text: "Hello"}, res)

	text := augmented(100, "Rust")
	assert.Equal(t, Result{Text: text}, b.Fit(text))

	huge := strings.Repeat("x", 1_000_000)
	assert.Equal(t, huge, Budget{}.Fit(huge).Text)
}

func TestFitShrinksSearchContextFirst(t *testing.T) {
	b := Budget{Window: 4096}
	query := "What is the borrow checker?"
	text := augmented(20000, query)
	require.Greater(t, len(text), 20000)

	res := b.Fit(text)
	require.True(t, res.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), b.Chars())
	assert.True(t, strings.HasPrefix(res.Text, ContextHeader))
	assert.True(t, strings.HasSuffix(res.Text, "User Query: "+query))
	assert.Contains(t, res.Text, Marker+QuerySep)
	// the context keeps as much as fits
	assert.Equal(t, b.Chars(), utf8.RuneCountInString(res.Text))
}

func TestFitDropsContextWhenOnlyQueryFits(t *testing.T) {
	b := Budget{Window: 100} // 320 chars
	query := strings.Repeat("q", 300)

	res := b.Fit(augmented(500, query))
	require.True(t, res.Truncated)
	assert.Equal(t, "User Query: "+query, res.Text)
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), b.Chars())
}

func TestFitTruncatesWholeTextWhenQueryTooLong(t *testing.T) {
	b := Budget{Window: 100}
	query := strings.Repeat("q", 400)

	res := b.Fit(augmented(500, query))
	require.True(t, res.Truncated)
	assert.Equal(t, b.Chars(), utf8.RuneCountInString(res.Text))
	assert.True(t, strings.HasSuffix(res.Text, Marker))
	assert.True(t, strings.HasPrefix(res.Text, ContextHeader))
}

func TestFitTruncatesPlainText(t *testing.T) {
	b := Budget{Window: 100}
	text := strings.Repeat("é", 1000)

	res := b.Fit(text)
	require.True(t, res.Truncated)
	assert.True(t, utf8.ValidString(res.Text))
	assert.Equal(t, b.Chars(), utf8.RuneCountInString(res.Text))
	assert.Equal(t, strings.Repeat("é", b.Chars()-utf8.RuneCountInString(Marker))+Marker, res.Text)
}

func TestFitWithoutQuerySeparatorIsPlainText(t *testing.T) {
	b := Budget{Window: 100}
	text := ContextHeader + strings.Repeat("c", 1000)

	res := b.Fit(text)
	assert.True(t, strings.HasSuffix(res.Text, Marker))
	assert.Equal(t, b.Chars(), utf8.RuneCountInString(res.Text))
}

func TestFitTinyWindowNeverExceedsBudget(t *testing.T) {
	for _, window := range []int{1, 2, 4} {
		b := Budget{Window: window}
		res := b.Fit("Hello world, how are you?")
		require.True(t, res.Truncated, window)
		assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), b.Chars(), window)
		assert.NotContains(t, res.Text, Marker, window)
	}
	assert.Equal(t, "Hello world,", Budget{Window: 4}.Fit("Hello world, how are you?").Text)
	assert.Empty(t, Budget{Window: 1}.Fit("Hello").Text)
}
