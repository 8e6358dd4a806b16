// Package llmtest provides an in-memory inference engine for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/RichardoC/localchat/internal/llm"
)

// Engine is a scripted llm.Engine. Configure the exported fields before use.
type Engine struct {
	// Chunks are streamed in order for every chat request.
	Chunks []string
	// StreamErr, when set, ends every stream after its chunks.
	StreamErr error
	// Hold keeps streams open after their chunks until cancelled.
	Hold bool
	// Completion answers non-streaming requests.
	Completion func(messages []llm.ChatMessage, maxTokens int) (string, error)
	// LoadErr fails every load.
	LoadErr error
	// LoadSteps are reported through the progress callback while loading.
	LoadSteps []llm.Progress
	// HoldLoad blocks loads after their steps until cancelled.
	HoldLoad bool

	mu          sync.Mutex
	cached      map[string]bool
	loads       []string
	releases    []string
	streamCalls [][]llm.ChatMessage
	completions [][]llm.ChatMessage
	streaming   chan struct{}
	loading     chan struct{}
}

func NewEngine(cached ...string) *Engine {
	e := &Engine{
		Chunks:    []string{"Hello", " there", "!"},
		LoadSteps: []llm.Progress{{Text: "Fetching weights", Fraction: 0.5}},
		cached:    make(map[string]bool),
		streaming: make(chan struct{}, 16),
		loading:   make(chan struct{}, 16),
	}
	for _, id := range cached {
		e.cached[id] = true
	}
	return e
}

func (e *Engine) HasCached(_ context.Context, modelID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cached[modelID], nil
}

func (e *Engine) Load(ctx context.Context, modelID string, onProgress llm.ProgressFunc) (llm.Handle, error) {
	e.mu.Lock()
	e.loads = append(e.loads, modelID)
	e.mu.Unlock()

	for _, p := range e.LoadSteps {
		if onProgress != nil {
			onProgress(p)
		}
	}
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	select {
	case e.loading <- struct{}{}:
	default:
	}
	if e.HoldLoad {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cached[modelID] = true
	e.mu.Unlock()
	return &handle{engine: e, modelID: modelID}, nil
}

// Loads returns the model ids passed to Load, in order.
func (e *Engine) Loads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loads...)
}

func (e *Engine) Releases() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.releases...)
}

// StreamCalls returns the messages of every chat request.
func (e *Engine) StreamCalls() [][]llm.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]llm.ChatMessage(nil), e.streamCalls...)
}

func (e *Engine) Completions() [][]llm.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]llm.ChatMessage(nil), e.completions...)
}

// Streaming receives a value each time a stream has sent all its chunks.
func (e *Engine) Streaming() <-chan struct{} {
	return e.streaming
}

// Loading receives a value each time a load has reported all its steps.
func (e *Engine) Loading() <-chan struct{} {
	return e.loading
}

type handle struct {
	engine  *Engine
	modelID string

	mu      sync.Mutex
	current *llm.Stream
}

func (h *handle) StreamChat(ctx context.Context, messages []llm.ChatMessage) (*llm.Stream, error) {
	e := h.engine
	e.mu.Lock()
	e.streamCalls = append(e.streamCalls, append([]llm.ChatMessage(nil), messages...))
	e.mu.Unlock()

	s := llm.NewStream(ctx, func(ctx context.Context, emit func(string) error) error {
		for _, c := range e.Chunks {
			if err := emit(c); err != nil {
				return err
			}
		}
		select {
		case e.streaming <- struct{}{}:
		default:
		}
		if e.Hold {
			<-ctx.Done()
			return ctx.Err()
		}
		return e.StreamErr
	})

	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
	return s, nil
}

func (h *handle) Complete(_ context.Context, messages []llm.ChatMessage, maxTokens int) (string, error) {
	e := h.engine
	e.mu.Lock()
	e.completions = append(e.completions, append([]llm.ChatMessage(nil), messages...))
	e.mu.Unlock()

	if e.Completion == nil {
		return "", errors.New("no completion configured")
	}
	return e.Completion(messages, maxTokens)
}

func (h *handle) Interrupt() {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

func (h *handle) Release(context.Context) error {
	h.Interrupt()
	h.engine.mu.Lock()
	h.engine.releases = append(h.engine.releases, h.modelID)
	h.engine.mu.Unlock()
	return nil
}
