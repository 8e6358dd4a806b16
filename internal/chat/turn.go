package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/localchat/internal/budget"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/models"
	"github.com/RichardoC/localchat/internal/search"
	"go.uber.org/zap"
)

// Send runs one turn in the open conversation: load the model, optionally
// augment the prompt with web search, fit it to the context window, stream
// the reply and persist both messages. It returns the assistant message.
func (o *Orchestrator) Send(ctx context.Context, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	o.mu.Lock()
	if o.busy() {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	conv, ok := o.state.Current()
	if !ok {
		o.mu.Unlock()
		return nil, ErrNoConversation
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t := &turn{convID: conv.ID, cancel: cancel}
	o.turn = t
	settings := o.state.Settings
	searchEnabled := o.state.SearchEnabled
	transcript := append([]models.Message{}, o.state.Messages...)
	o.mu.Unlock()

	started := time.Now()
	logger := o.logger.With(zap.String("conversation", conv.ID))

	modelID := o.resolveModel(conv, settings)
	systemPrompt := conv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = settings.SystemPrompt
	}
	provider := conv.SearchProvider
	if provider == "" || provider == models.ProviderDefault {
		provider = settings.SearchProvider
	}
	window := budget.Budget{Window: o.catalog.ContextWindow(modelID)}

	o.live(t, func(s *State) {
		s.IsGenerating = true
		s.LastError = ""
		s.Phase = PhaseIdle
		s.Draft = nil
	})

	if o.models.ActiveModelID() != modelID {
		o.live(t, func(s *State) {
			t.loading = true
			s.Phase = PhaseAwaitingModel
			s.ModelLoading = &llm.Progress{Text: "Loading " + modelID}
		})
		err := o.models.EnsureActive(ctx, modelID, func(p llm.Progress) {
			o.live(t, func(s *State) {
				s.ModelLoading = &p
			})
		})
		active := o.models.ActiveModelID()
		o.update(func(s *State) {
			t.loading = false
			s.ActiveModelID = active
			if o.turn == t {
				s.ModelLoading = nil
			}
		})
		if err != nil {
			return nil, o.fail(t, transcript, outcomeModelLoadFailed, err)
		}
	}
	if o.stopped(t) {
		return nil, o.abort(t)
	}

	outbound := text
	var results []models.SearchResult
	if searchEnabled {
		o.live(t, func(s *State) { s.Phase = PhaseSearching })
		results = o.searcher.Search(ctx, text, provider, search.Credentials{
			APIKey: settings.GoogleAPIKey,
			CX:     settings.GoogleCX,
		})
		if len(results) > 0 && settings.SummarizeSearch {
			results = o.searcher.Summarize(ctx, results, o.models)
		}
		if len(results) > 0 {
			outbound = search.BuildContext(results, text)
		}
		searchResults.Observe(float64(len(results)))
		logger.Debug("search finished",
			zap.String("provider", provider),
			zap.Int("results", len(results)))
	}
	if o.stopped(t) {
		return nil, o.abort(t)
	}

	o.live(t, func(s *State) { s.Phase = PhaseBudgeting })
	fit := window.Fit(outbound)
	if fit.Truncated {
		promptTruncations.Inc()
		logger.Info("prompt truncated to fit context window",
			zap.String("model", modelID),
			zap.Int("limit", window.Chars()))
	}

	now := o.now()
	user := models.Message{
		Role:          models.RoleUser,
		Content:       text,
		ActualContent: fit.Text,
		Timestamp:     now,
		SearchResults: results,
		SystemPrompt:  systemPrompt,
	}
	transcript = append(transcript, user)
	o.live(t, func(s *State) {
		if s.CurrentID == t.convID {
			s.Messages = append([]models.Message{}, transcript...)
		}
		if c, ok := s.find(t.convID); ok {
			c.LastMessageAt = now
			c.Preview = models.Preview(text)
			s.replace(c)
			sortByRecent(s.Conversations)
		}
	})
	o.persistMessages(t.convID, transcript)

	history := make([]llm.ChatMessage, 0, len(transcript)+1)
	if systemPrompt != "" {
		history = append(history, llm.ChatMessage{Role: models.RoleSystem, Content: systemPrompt})
	}
	for _, m := range transcript {
		history = append(history, llm.ChatMessage{Role: m.Role, Content: m.Outbound()})
	}

	o.live(t, func(s *State) { s.Phase = PhaseGenerating })
	stream, err := o.models.Stream(ctx, history)
	if err != nil {
		return nil, o.fail(t, transcript, outcomeGenerationFail, fmt.Errorf("%w: %w", ErrGeneration, err))
	}

	reply := models.Message{
		Role:         models.RoleAssistant,
		Timestamp:    o.now(),
		ModelID:      modelID,
		SystemPrompt: systemPrompt,
	}
	for partial := range stream.Updates() {
		msg := reply
		msg.Content = partial
		o.live(t, func(s *State) {
			if s.CurrentID == t.convID {
				s.Draft = &msg
			}
		})
	}
	final, err := stream.Wait()
	if err != nil {
		return nil, o.fail(t, transcript, outcomeGenerationFail, fmt.Errorf("%w: %w", ErrGeneration, err))
	}
	if !o.finalize(t) {
		return nil, o.abort(t)
	}
	reply.Content = final
	transcript = append(transcript, reply)
	o.persistMessages(t.convID, transcript)

	var deriveTitle bool
	o.finish(t, func(s *State) {
		if s.CurrentID == t.convID {
			s.Messages = append([]models.Message{}, transcript...)
		}
		s.Draft = nil
		c, ok := s.find(t.convID)
		deriveTitle = ok && c.Title == models.DefaultTitle && len(transcript) >= 2
	})
	turnsTotal.WithLabelValues(outcomeCompleted).Inc()
	turnDuration.Observe(time.Since(started).Seconds())
	logger.Info("turn completed",
		zap.String("model", modelID),
		zap.Int("replyChars", len(final)),
		zap.Duration("took", time.Since(started)))

	if deriveTitle {
		history = append(history, llm.ChatMessage{Role: models.RoleAssistant, Content: final})
		o.background.Add(1)
		go o.deriveTitle(context.WithoutCancel(ctx), t.convID, history)
	}
	return &reply, nil
}

// Stop interrupts the running turn. Partial output stays visible but is not
// saved.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	t := o.turn
	if t == nil || t.stopped || t.finalizing {
		o.mu.Unlock()
		return
	}
	t.stopped = true
	o.mu.Unlock()

	t.cancel()
	o.models.Interrupt()
	o.update(func(s *State) {
		s.IsGenerating = false
		s.Phase = PhaseIdle
		// input stays disabled until an abandoned load returns
		if !t.loading {
			s.ModelLoading = nil
		}
	})
	o.logger.Info("generation stopped", zap.String("conversation", t.convID))
}

func (o *Orchestrator) deriveTitle(ctx context.Context, convID string, history []llm.ChatMessage) {
	defer o.background.Done()
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	title, err := o.models.GenerateTitle(ctx, history)
	if err != nil {
		o.logger.Warn("failed to generate title",
			zap.String("conversation", convID),
			zap.Error(err))
		return
	}

	var (
		conv    models.Conversation
		updated bool
	)
	o.update(func(s *State) {
		c, ok := s.find(convID)
		if !ok || c.Title != models.DefaultTitle {
			return
		}
		c.Title = title
		s.replace(c)
		conv, updated = c, true
	})
	if updated {
		o.persistConversation(conv)
	}
}

// live applies fn while t is still the running turn.
func (o *Orchestrator) live(t *turn, fn func(s *State)) {
	o.update(func(s *State) {
		if o.turn == t && !t.stopped {
			fn(s)
		}
	})
}

// finalize commits t to saving its reply. It reports false when t was
// stopped first.
func (o *Orchestrator) finalize(t *turn) bool {
	var ok bool
	o.live(t, func(s *State) {
		t.finalizing = true
		s.Phase = PhaseFinalizing
		ok = true
	})
	return ok
}

func (o *Orchestrator) stopped(t *turn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return t.stopped
}

// finish ends t, applying fn first when it was not stopped.
func (o *Orchestrator) finish(t *turn, fn func(s *State)) {
	o.update(func(s *State) {
		if o.turn != t {
			return
		}
		o.turn = nil
		if t.stopped {
			return
		}
		if fn != nil {
			fn(s)
		}
		s.IsGenerating = false
		s.Phase = PhaseIdle
		s.ModelLoading = nil
	})
}

func (o *Orchestrator) abort(t *turn) error {
	o.finish(t, nil)
	turnsTotal.WithLabelValues(outcomeStopped).Inc()
	return ErrStopped
}

// fail ends t with err, dropping any streamed draft.
func (o *Orchestrator) fail(t *turn, transcript []models.Message, outcome string, err error) error {
	if o.stopped(t) {
		return o.abort(t)
	}
	o.finish(t, func(s *State) {
		if s.CurrentID == t.convID {
			s.Messages = append([]models.Message{}, transcript...)
		}
		s.Draft = nil
		s.LastError = err.Error()
	})
	turnsTotal.WithLabelValues(outcome).Inc()
	o.logger.Error("turn failed",
		zap.String("conversation", t.convID),
		zap.String("outcome", outcome),
		zap.Error(err))
	return err
}
