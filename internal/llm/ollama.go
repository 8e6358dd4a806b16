package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/RichardoC/localchat/internal/models"
	"github.com/ollama/ollama/api"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const DefaultOllamaURL = "http://localhost:11434"

// OllamaEngine runs models on a local Ollama daemon. Weights are managed
// through the Ollama API and generation goes through its OpenAI-compatible
// endpoint.
type OllamaEngine struct {
	baseURL string
	client  *api.Client
	logger  *zap.Logger
}

func NewOllamaEngine(baseURL string, logger *zap.Logger) (*OllamaEngine, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	return &OllamaEngine{
		baseURL: baseURL,
		// no timeout: pulls of multi-gigabyte weights take a while
		client: api.NewClient(parsed, &http.Client{}),
		logger: logger,
	}, nil
}

func (e *OllamaEngine) HasCached(ctx context.Context, modelID string) (bool, error) {
	resp, err := e.client.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list local models: %w", err)
	}
	for _, m := range resp.Models {
		if matchesModel(m.Name, modelID) {
			return true, nil
		}
	}
	return false, nil
}

func matchesModel(name, modelID string) bool {
	return name == modelID || strings.TrimSuffix(name, ":latest") == modelID
}

// Load pulls the weights when missing, loads them into memory and returns a
// handle for generation.
func (e *OllamaEngine) Load(ctx context.Context, modelID string, onProgress ProgressFunc) (Handle, error) {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	cached, err := e.HasCached(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if !cached {
		if err := e.pull(ctx, modelID, report); err != nil {
			return nil, err
		}
	}

	report(Progress{Text: "Loading model into memory", Fraction: 1})
	// an empty prompt makes Ollama load the model and return
	err = e.client.Generate(ctx, &api.GenerateRequest{Model: modelID}, func(api.GenerateResponse) error {
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", modelID, err)
	}

	llm, err := openai.New(
		openai.WithToken("ollama"),
		openai.WithBaseURL(e.baseURL+"/v1"),
		openai.WithModel(modelID),
	)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("model loaded", zap.String("model", modelID))
	return &ollamaHandle{modelID: modelID, engine: e, llm: llm}, nil
}

func (e *OllamaEngine) pull(ctx context.Context, modelID string, report ProgressFunc) error {
	e.logger.Info("pulling model", zap.String("model", modelID))

	err := e.client.Pull(ctx, &api.PullRequest{Model: modelID}, func(resp api.ProgressResponse) error {
		p := Progress{Text: resp.Status}
		if resp.Total > 0 {
			p.Fraction = float64(resp.Completed) / float64(resp.Total)
			p.Text = fmt.Sprintf("%s (%d%%)", resp.Status, resp.Completed*100/resp.Total)
		}
		report(p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", modelID, err)
	}
	return nil
}

func (e *OllamaEngine) unload(ctx context.Context, modelID string) error {
	req := &api.GenerateRequest{Model: modelID, KeepAlive: &api.Duration{Duration: 0}}
	return e.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil })
}

type ollamaHandle struct {
	modelID string
	engine  *OllamaEngine
	llm     llms.Model

	mu      sync.Mutex
	current *Stream
}

func (h *ollamaHandle) StreamChat(ctx context.Context, messages []ChatMessage) (*Stream, error) {
	content := toMessageContent(messages)
	s := NewStream(ctx, func(ctx context.Context, emit func(string) error) error {
		_, err := h.llm.GenerateContent(ctx, content, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return emit(string(chunk))
		}))
		return err
	})

	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
	return s, nil
}

func (h *ollamaHandle) Complete(ctx context.Context, messages []ChatMessage, maxTokens int) (string, error) {
	resp, err := h.llm.GenerateContent(ctx, toMessageContent(messages), llms.WithMaxTokens(maxTokens))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Content, nil
}

func (h *ollamaHandle) Interrupt() {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

func (h *ollamaHandle) Release(ctx context.Context) error {
	h.Interrupt()
	if err := h.engine.unload(ctx, h.modelID); err != nil {
		return fmt.Errorf("failed to unload %s: %w", h.modelID, err)
	}
	return nil
}

func toMessageContent(messages []ChatMessage) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	return content
}
