package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/RichardoC/localchat/internal/models"
	"go.uber.org/zap"
)

var (
	ErrModelLoad     = errors.New("model load failed")
	ErrNoActiveModel = errors.New("no active model")
)

const (
	titleMaxTokens   = 20
	summaryMaxTokens = 150
	titleContext     = 3

	titleInstruction = "Generate a short, concise title (3-5 words max) for this conversation. Do not use quotes. Return ONLY the title."
)

// Manager owns the single active engine handle and the per-model download
// status. Nothing else mutates either.
type Manager struct {
	engine Engine
	logger *zap.Logger

	mu       sync.Mutex
	activeID string
	handle   Handle
	status   map[string]Progress
}

func NewManager(engine Engine, logger *zap.Logger) *Manager {
	return &Manager{
		engine: engine,
		logger: logger,
		status: make(map[string]Progress),
	}
}

// Download warms the local cache for a model without making it active.
// Failures are logged and leave the model's status non-ready.
func (m *Manager) Download(ctx context.Context, modelID string, onProgress ProgressFunc) {
	report := m.reporter(modelID, onProgress)

	cached, err := m.engine.HasCached(ctx, modelID)
	if err != nil {
		m.logger.Warn("cache check failed, downloading anyway",
			zap.String("model", modelID),
			zap.Error(err))
	}
	if cached {
		report(Ready)
		return
	}

	handle, err := m.engine.Load(ctx, modelID, report)
	if err != nil {
		m.logger.Error("failed to download model",
			zap.String("model", modelID),
			zap.Error(err))
		report(Progress{Text: "Failed: " + err.Error()})
		return
	}
	if err := handle.Release(ctx); err != nil {
		m.logger.Warn("failed to release download handle",
			zap.String("model", modelID),
			zap.Error(err))
	}
	report(Ready)
}

// EnsureActive makes modelID the model used for generation, loading it when
// it is not already active. The previous handle is released.
func (m *Manager) EnsureActive(ctx context.Context, modelID string, onProgress ProgressFunc) error {
	m.mu.Lock()
	if m.activeID == modelID && m.handle != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	report := m.reporter(modelID, onProgress)
	handle, err := m.engine.Load(ctx, modelID, report)
	if err != nil {
		m.logger.Error("failed to load model",
			zap.String("model", modelID),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrModelLoad, modelID, err)
	}

	m.mu.Lock()
	previous := m.handle
	m.handle, m.activeID = handle, modelID
	m.mu.Unlock()
	report(Ready)

	if previous != nil {
		if err := previous.Release(ctx); err != nil {
			m.logger.Warn("failed to release previous model", zap.Error(err))
		}
	}
	m.logger.Info("model active", zap.String("model", modelID))
	return nil
}

// Interrupt stops the in-flight generation on the active handle, if any.
func (m *Manager) Interrupt() {
	if h := m.active(); h != nil {
		h.Interrupt()
	}
}

func (m *Manager) ActiveModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return ""
	}
	return m.activeID
}

func (m *Manager) Status(modelID string) (Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.status[modelID]
	return p, ok
}

func (m *Manager) Statuses() map[string]Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Progress, len(m.status))
	for id, p := range m.status {
		out[id] = p
	}
	return out
}

func (m *Manager) IsReady(modelID string) bool {
	p, _ := m.Status(modelID)
	return p.IsReady()
}

// Stream starts a chat generation on the active model.
func (m *Manager) Stream(ctx context.Context, messages []ChatMessage) (*Stream, error) {
	h := m.active()
	if h == nil {
		return nil, ErrNoActiveModel
	}
	return h.StreamChat(ctx, messages)
}

// GenerateTitle asks the active model for a short title based on the first
// turns of a conversation.
func (m *Manager) GenerateTitle(ctx context.Context, messages []ChatMessage) (string, error) {
	h := m.active()
	if h == nil {
		return "", ErrNoActiveModel
	}
	if len(messages) > titleContext {
		messages = messages[:titleContext]
	}
	prompt := append(append([]ChatMessage{}, messages...), ChatMessage{Role: models.RoleUser, Content: titleInstruction})

	title, err := h.Complete(ctx, prompt, titleMaxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if title == "" {
		return "", errors.New("model returned an empty title")
	}
	return title, nil
}

// Summarize rewrites text into exactly two sentences using the active model.
func (m *Manager) Summarize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return text, nil
	}
	h := m.active()
	if h == nil {
		return "", ErrNoActiveModel
	}
	summary, err := h.Complete(ctx, []ChatMessage{
		{Role: models.RoleSystem, Content: "You are a helpful assistant."},
		{Role: models.RoleUser, Content: "Summarize the following text into exactly 2 sentences:\n\n" + text},
	}, summaryMaxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// Close releases the active handle.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.handle, m.activeID = nil, ""
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Release(ctx)
}

func (m *Manager) active() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// reporter records progress for modelID and forwards it. A model that has
// become ready stays ready while it is being loaded again.
func (m *Manager) reporter(modelID string, onProgress ProgressFunc) ProgressFunc {
	return func(p Progress) {
		m.mu.Lock()
		if !m.status[modelID].IsReady() {
			m.status[modelID] = p
		}
		m.mu.Unlock()
		if onProgress != nil {
			onProgress(p)
		}
	}
}
