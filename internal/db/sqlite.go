package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/localchat/internal/models"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    model_id TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL DEFAULT '',
    search_provider TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    last_message_at INTEGER NOT NULL,
    preview TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
    conversation_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    actual_content TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL,
    model_id TEXT NOT NULL DEFAULT '',
    search_results TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (conversation_id, position)
);

CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

const (
	settingsKey   = "settings"
	onboardingKey = "onboarding_complete"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidBackup = errors.New("invalid backup")
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases and write ordering consistent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create schema: %w", err), db.Close())
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) ListConversations() ([]models.Conversation, error) {
	query := `
        SELECT id, title, model_id, system_prompt, search_provider, created_at, last_message_at, preview
        FROM conversations
        ORDER BY last_message_at DESC`

	rows, err := db.db.Query(query)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var (
			conv                 models.Conversation
			created, lastMessage int64
		)
		err := rows.Scan(&conv.ID, &conv.Title, &conv.ModelID, &conv.SystemPrompt, &conv.SearchProvider,
			&created, &lastMessage, &conv.Preview)
		if err != nil {
			return []models.Conversation{}, err
		}
		conv.CreatedAt = fromMillis(created)
		conv.LastMessageAt = fromMillis(lastMessage)
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (db *Database) GetConversation(id string) (models.Conversation, error) {
	var (
		conv                 models.Conversation
		created, lastMessage int64
	)
	err := db.db.QueryRow(`
        SELECT id, title, model_id, system_prompt, search_provider, created_at, last_message_at, preview
        FROM conversations
        WHERE id = ?`, id).Scan(&conv.ID, &conv.Title, &conv.ModelID, &conv.SystemPrompt, &conv.SearchProvider,
		&created, &lastMessage, &conv.Preview)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	conv.CreatedAt = fromMillis(created)
	conv.LastMessageAt = fromMillis(lastMessage)
	return conv, err
}

// SaveConversation inserts or replaces a conversation record.
func (db *Database) SaveConversation(conv models.Conversation) error {
	return saveConversation(db.db, conv)
}

func saveConversation(e execer, conv models.Conversation) error {
	_, err := e.Exec(`
        INSERT INTO conversations (id, title, model_id, system_prompt, search_provider, created_at, last_message_at, preview)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            model_id = excluded.model_id,
            system_prompt = excluded.system_prompt,
            search_provider = excluded.search_provider,
            created_at = excluded.created_at,
            last_message_at = excluded.last_message_at,
            preview = excluded.preview`,
		conv.ID, conv.Title, conv.ModelID, conv.SystemPrompt, conv.SearchProvider,
		toMillis(conv.CreatedAt), toMillis(conv.LastMessageAt), conv.Preview)
	return err
}

func (db *Database) DeleteConversation(id string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) GetMessages(conversationID string) ([]models.Message, error) {
	query := `
        SELECT role, content, actual_content, timestamp, model_id, search_results, system_prompt
        FROM messages
        WHERE conversation_id = ?
        ORDER BY position ASC`

	rows, err := db.db.Query(query, conversationID)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg           models.Message
			role, results string
			ts            int64
		)
		err := rows.Scan(&role, &msg.Content, &msg.ActualContent, &ts, &msg.ModelID, &results, &msg.SystemPrompt)
		if err != nil {
			return []models.Message{}, err
		}
		msg.Role = models.Role(role)
		msg.Timestamp = fromMillis(ts)
		if results != "" {
			if err := json.Unmarshal([]byte(results), &msg.SearchResults); err != nil {
				return []models.Message{}, fmt.Errorf("failed to decode search results: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveMessages replaces the message log of a conversation and refreshes the
// conversation's lastMessageAt and preview from the last message.
func (db *Database) SaveMessages(conversationID string, messages []models.Message) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := replaceMessages(tx, conversationID, messages); err != nil {
		return err
	}

	if len(messages) > 0 {
		last := messages[len(messages)-1]
		_, err := tx.Exec("UPDATE conversations SET last_message_at = ?, preview = ? WHERE id = ?",
			toMillis(last.Timestamp), models.Preview(last.Content), conversationID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func replaceMessages(tx *sql.Tx, conversationID string, messages []models.Message) error {
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
        INSERT INTO messages (conversation_id, position, role, content, actual_content, timestamp, model_id, search_results, system_prompt)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range messages {
		var results []byte
		if len(msg.SearchResults) > 0 {
			if results, err = json.Marshal(msg.SearchResults); err != nil {
				return fmt.Errorf("failed to encode search results: %w", err)
			}
		}
		_, err := stmt.Exec(conversationID, i, string(msg.Role), msg.Content, msg.ActualContent,
			toMillis(msg.Timestamp), msg.ModelID, string(results), msg.SystemPrompt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) GetSettings() (models.Settings, error) {
	settings := models.DefaultSettings()
	value, err := db.getValue(settingsKey)
	if errors.Is(err, ErrNotFound) {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return models.DefaultSettings(), fmt.Errorf("failed to decode settings: %w", err)
	}
	if settings.SearchProvider == "" {
		settings.SearchProvider = models.ProviderWikipedia
	}
	return settings, nil
}

func (db *Database) SaveSettings(settings models.Settings) error {
	return saveSettings(db.db, settings)
}

func saveSettings(e execer, settings models.Settings) error {
	value, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return setValue(e, settingsKey, string(value))
}

func (db *Database) IsOnboardingComplete() (bool, error) {
	value, err := db.getValue(onboardingKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return value == "true", err
}

func (db *Database) SetOnboardingComplete() error {
	return setValue(db.db, onboardingKey, "true")
}

func (db *Database) getValue(key string) (string, error) {
	var value string
	err := db.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func setValue(e execer, key, value string) error {
	_, err := e.Exec(`
        INSERT INTO kv (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
