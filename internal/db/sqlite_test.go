package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/RichardoC/localchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func at(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func TestConversationCRUD(t *testing.T) {
	database := newTestDatabase(t)

	older := models.Conversation{ID: "a", Title: models.DefaultTitle, CreatedAt: at(1000), LastMessageAt: at(1000), Preview: models.EmptyPreview}
	newer := models.Conversation{ID: "b", Title: "Rust questions", ModelID: "gemma2:2b", SystemPrompt: "be brief",
		SearchProvider: models.ProviderGoogle, CreatedAt: at(2000), LastMessageAt: at(3000), Preview: "hi"}
	require.NoError(t, database.SaveConversation(older))
	require.NoError(t, database.SaveConversation(newer))

	list, err := database.ListConversations()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer, list[0])
	assert.Equal(t, older, list[1])

	older.Title = "Renamed"
	require.NoError(t, database.SaveConversation(older))
	got, err := database.GetConversation("a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	require.NoError(t, database.SaveMessages("a", []models.Message{{Role: models.RoleUser, Content: "x", Timestamp: at(5000)}}))
	require.NoError(t, database.DeleteConversation("a"))

	_, err = database.GetConversation("a")
	assert.ErrorIs(t, err, ErrNotFound)
	messages, err := database.GetMessages("a")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSaveMessagesReplacesLogAndUpdatesPreview(t *testing.T) {
	database := newTestDatabase(t)
	require.NoError(t, database.SaveConversation(models.Conversation{ID: "c", Title: models.DefaultTitle, CreatedAt: at(1), LastMessageAt: at(1)}))

	first := []models.Message{
		{
			Role:          models.RoleUser,
			Content:       "Rust",
			ActualContent: "Context from web search:\n[Wikipedia] Rust: a language (url)\n\nUser Query: Rust",
			Timestamp:     at(10),
			SearchResults: []models.SearchResult{{Title: "Rust", Snippet: "a language", URL: "url", Source: "Wikipedia"}},
			SystemPrompt:  "be nice",
		},
	}
	require.NoError(t, database.SaveMessages("c", first))

	long := "The Rust programming language is a multi-paradigm, general-purpose language."
	second := append(first, models.Message{Role: models.RoleAssistant, Content: long, Timestamp: at(20), ModelID: "llama3.2:1b"})
	require.NoError(t, database.SaveMessages("c", second))

	messages, err := database.GetMessages("c")
	require.NoError(t, err)
	assert.Equal(t, second, messages)

	conv, err := database.GetConversation("c")
	require.NoError(t, err)
	assert.Equal(t, at(20), conv.LastMessageAt)
	assert.Equal(t, models.Preview(long), conv.Preview)
}

func TestSettingsDefaultsAndSave(t *testing.T) {
	database := newTestDatabase(t)

	settings, err := database.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), settings)

	settings.DefaultModelID = "gemma2:2b"
	settings.SearchProvider = models.ProviderGoogle
	settings.GoogleAPIKey = "key"
	settings.GoogleCX = "cx"
	require.NoError(t, database.SaveSettings(settings))

	got, err := database.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}

func TestOnboarding(t *testing.T) {
	database := newTestDatabase(t)

	done, err := database.IsOnboardingComplete()
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, database.SetOnboardingComplete())
	done, err = database.IsOnboardingComplete()
	require.NoError(t, err)
	assert.True(t, done)
}
