package models

import (
	"time"
	"unicode/utf8"
)

const (
	DefaultTitle = "New Chat"
	EmptyPreview = "No messages yet"

	previewLength = 50
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

type Message struct {
	Role          Role           `json:"role"`
	Content       string         `json:"content"`                 // what the user sees
	ActualContent string         `json:"actualContent,omitempty"` // what the model was sent, when different
	Timestamp     time.Time      `json:"timestamp"`
	ModelID       string         `json:"modelId,omitempty"`
	SearchResults []SearchResult `json:"searchResults,omitempty"`
	SystemPrompt  string         `json:"systemPrompt,omitempty"`
}

// Outbound returns the text that goes to the model for this message.
func (m Message) Outbound() string {
	if m.ActualContent != "" {
		return m.ActualContent
	}
	return m.Content
}

type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ModelID        string    `json:"modelId,omitempty"`
	SystemPrompt   string    `json:"systemPrompt,omitempty"`
	SearchProvider string    `json:"searchProvider,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	Preview        string    `json:"preview"`
}

// Now returns the current time at the precision the store keeps.
func Now() time.Time {
	return time.UnixMilli(time.Now().UnixMilli()).UTC()
}

// Preview shortens text to the conversation list preview length.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "..."
}
