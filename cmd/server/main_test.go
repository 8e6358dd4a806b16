package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(level)
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
	_, err := newLogger("chatty")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestExportImportCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOCALCHAT_LOG_LEVEL", "error")
	noConfig := filepath.Join(dir, "absent.yaml")

	source := filepath.Join(dir, "source.db")
	database, err := db.New(source)
	require.NoError(t, err)
	created := time.UnixMilli(1714560000000).UTC()
	require.NoError(t, database.SaveConversation(models.Conversation{
		ID:            "c1",
		Title:         "Rust questions",
		CreatedAt:     created,
		LastMessageAt: created,
		Preview:       models.EmptyPreview,
	}))
	require.NoError(t, database.SaveMessages("c1", []models.Message{
		{Role: models.RoleUser, Content: "Rust", Timestamp: created},
	}))
	require.NoError(t, database.Close())

	backup := filepath.Join(dir, "backup.json")
	t.Setenv("LOCALCHAT_DB", source)
	rootCmd.SetArgs([]string{"--config", noConfig, "export", backup})
	require.NoError(t, rootCmd.Execute())

	target := filepath.Join(dir, "target.db")
	t.Setenv("LOCALCHAT_DB", target)
	rootCmd.SetArgs([]string{"--config", noConfig, "import", backup})
	require.NoError(t, rootCmd.Execute())

	restored, err := db.New(target)
	require.NoError(t, err)
	defer restored.Close()
	convs, err := restored.ListConversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Rust questions", convs[0].Title)
	msgs, err := restored.GetMessages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Rust", msgs[0].Content)
}

func TestImportRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOCALCHAT_LOG_LEVEL", "error")
	t.Setenv("LOCALCHAT_DB", filepath.Join(dir, "chat.db"))

	rootCmd.SetArgs([]string{"--config", filepath.Join(dir, "absent.yaml"), "import", filepath.Join(dir, "missing.json")})
	assert.Error(t, rootCmd.Execute())
}
