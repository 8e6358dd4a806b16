// Package llm wraps the local inference engine and owns which model is
// loaded for generation.
package llm

import (
	"context"

	"github.com/RichardoC/localchat/internal/models"
)

type ChatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Progress is a download or load status for one model.
type Progress struct {
	Text     string  `json:"text"`
	Fraction float64 `json:"progress"`
}

// Ready is the terminal status of a model whose weights are available locally.
var Ready = Progress{Text: "Ready", Fraction: 1}

func (p Progress) IsReady() bool {
	return p == Ready
}

type ProgressFunc func(Progress)

// Engine loads models. Loading a model that is not cached downloads it.
type Engine interface {
	Load(ctx context.Context, modelID string, onProgress ProgressFunc) (Handle, error)
	HasCached(ctx context.Context, modelID string) (bool, error)
}

// Handle is a loaded model.
type Handle interface {
	StreamChat(ctx context.Context, messages []ChatMessage) (*Stream, error)
	Complete(ctx context.Context, messages []ChatMessage, maxTokens int) (string, error)
	// Interrupt cancels the in-flight stream, if any.
	Interrupt()
	Release(ctx context.Context) error
}
