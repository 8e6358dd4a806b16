// Package chat coordinates conversations, model lifecycle, web search and
// persistence for the chat session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RichardoC/localchat/internal/catalog"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/models"
	"github.com/RichardoC/localchat/internal/search"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusy                = errors.New("a response is already being generated")
	ErrNoConversation      = errors.New("no conversation selected")
	ErrEmptyInput          = errors.New("message is empty")
	ErrStopped             = errors.New("generation stopped")
	ErrGeneration          = errors.New("generation failed")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrUnknownModel        = errors.New("unknown model")
)

const titleTimeout = time.Minute

// Store persists conversations, messages and settings.
type Store interface {
	ListConversations() ([]models.Conversation, error)
	SaveConversation(conv models.Conversation) error
	DeleteConversation(id string) error
	GetMessages(conversationID string) ([]models.Message, error)
	SaveMessages(conversationID string, messages []models.Message) error
	GetSettings() (models.Settings, error)
	SaveSettings(settings models.Settings) error
	Export() (models.Backup, error)
	Restore(backup models.Backup) error
}

// Models is the model lifecycle the orchestrator drives.
type Models interface {
	EnsureActive(ctx context.Context, modelID string, onProgress llm.ProgressFunc) error
	ActiveModelID() string
	Interrupt()
	Stream(ctx context.Context, messages []llm.ChatMessage) (*llm.Stream, error)
	GenerateTitle(ctx context.Context, messages []llm.ChatMessage) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, query, provider string, creds search.Credentials) []models.SearchResult
	Summarize(ctx context.Context, results []models.SearchResult, summarizer search.Summarizer) []models.SearchResult
}

// ConversationUpdate changes the fields that are set.
type ConversationUpdate struct {
	Title          *string `json:"title,omitempty"`
	ModelID        *string `json:"modelId,omitempty"`
	SystemPrompt   *string `json:"systemPrompt,omitempty"`
	SearchProvider *string `json:"searchProvider,omitempty"`
}

// turn tracks one Send call. A stopped turn no longer touches shared state.
// Fields are guarded by Orchestrator.mu.
type turn struct {
	convID     string
	cancel     context.CancelFunc
	stopped    bool
	loading    bool // a model load is in flight
	finalizing bool // the reply is being saved; Stop is ignored
}

type Orchestrator struct {
	store    Store
	models   Models
	searcher Searcher
	catalog  *catalog.Catalog
	logger   *zap.Logger

	newID func() string
	now   func() time.Time

	mu      sync.Mutex
	state   State
	turn    *turn
	subs    map[int]func(State)
	nextSub int

	background sync.WaitGroup
}

func New(store Store, m Models, searcher Searcher, cat *catalog.Catalog, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		models:   m,
		searcher: searcher,
		catalog:  cat,
		logger:   logger,
		newID:    uuid.NewString,
		now:      models.Now,
		state: State{
			Phase:    PhaseIdle,
			Settings: models.DefaultSettings(),
		},
		subs: make(map[int]func(State)),
	}
}

// Load reads conversations and settings from the store.
func (o *Orchestrator) Load() error {
	settings, err := o.store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	convs, err := o.store.ListConversations()
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	sortByRecent(convs)

	o.update(func(s *State) {
		s.Settings = settings
		s.Conversations = convs
		s.CurrentID = ""
		s.Messages = nil
		s.Draft = nil
		s.SelectedModelID = o.resolveModel(models.Conversation{}, settings)
	})
	o.logger.Info("session loaded", zap.Int("conversations", len(convs)))
	return nil
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Subscribe calls fn with a snapshot after every state change until the
// returned function is called. fn must not block.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) CreateConversation() models.Conversation {
	now := o.now()
	var conv models.Conversation
	o.update(func(s *State) {
		conv = models.Conversation{
			ID:            o.newID(),
			Title:         models.DefaultTitle,
			ModelID:       s.SelectedModelID,
			CreatedAt:     now,
			LastMessageAt: now,
			Preview:       models.EmptyPreview,
		}
		s.Conversations = append([]models.Conversation{conv}, s.Conversations...)
		s.CurrentID = conv.ID
		s.Messages = nil
		s.Draft = nil
	})
	o.persistConversation(conv)
	return conv
}

func (o *Orchestrator) SelectConversation(id string) error {
	o.mu.Lock()
	conv, ok := o.state.find(id)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	messages, err := o.store.GetMessages(id)
	if err != nil {
		o.logger.Error("failed to load messages",
			zap.String("conversation", id),
			zap.Error(err))
		messages = nil
	}

	o.update(func(s *State) {
		s.CurrentID = id
		s.Messages = messages
		s.Draft = nil
		if conv.ModelID != "" {
			s.SelectedModelID = conv.ModelID
		}
	})
	return nil
}

func (o *Orchestrator) DeleteConversation(id string) error {
	o.mu.Lock()
	if o.generatingIn(id) {
		o.mu.Unlock()
		return ErrBusy
	}
	o.mu.Unlock()

	if err := o.store.DeleteConversation(id); err != nil {
		o.logger.Error("failed to delete conversation",
			zap.String("conversation", id),
			zap.Error(err))
	}
	o.update(func(s *State) {
		kept := s.Conversations[:0]
		for _, c := range s.Conversations {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		s.Conversations = kept
		if s.CurrentID == id {
			s.CurrentID = ""
			s.Messages = nil
			s.Draft = nil
		}
	})
	return nil
}

func (o *Orchestrator) UpdateConversation(id string, upd ConversationUpdate) (models.Conversation, error) {
	if upd.ModelID != nil && *upd.ModelID != "" {
		if _, ok := o.catalog.Lookup(*upd.ModelID); !ok {
			return models.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownModel, *upd.ModelID)
		}
	}

	var (
		conv  models.Conversation
		found bool
	)
	o.update(func(s *State) {
		conv, found = s.find(id)
		if !found {
			return
		}
		if upd.Title != nil {
			conv.Title = *upd.Title
		}
		if upd.ModelID != nil {
			conv.ModelID = *upd.ModelID
			if s.CurrentID == id {
				s.SelectedModelID = o.resolveModel(conv, s.Settings)
			}
		}
		if upd.SystemPrompt != nil {
			conv.SystemPrompt = *upd.SystemPrompt
		}
		if upd.SearchProvider != nil {
			conv.SearchProvider = *upd.SearchProvider
		}
		s.replace(conv)
	})
	if !found {
		return conv, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	o.persistConversation(conv)
	return conv, nil
}

// SwitchModel selects the model for new conversations and, when a
// conversation is open, sets its override.
func (o *Orchestrator) SwitchModel(modelID string) error {
	if _, ok := o.catalog.Lookup(modelID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	var (
		conv models.Conversation
		busy bool
		open bool
	)
	o.update(func(s *State) {
		if o.busy() {
			busy = true
			return
		}
		s.SelectedModelID = modelID
		if conv, open = s.Current(); open {
			conv.ModelID = modelID
			s.replace(conv)
		}
	})
	if busy {
		return ErrBusy
	}
	if open {
		o.persistConversation(conv)
	}
	o.logger.Info("model selected", zap.String("model", modelID))
	return nil
}

func (o *Orchestrator) UpdateSettings(settings models.Settings) error {
	if settings.SearchProvider == "" {
		settings.SearchProvider = models.ProviderWikipedia
	}
	if err := o.store.SaveSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	o.update(func(s *State) {
		s.Settings = settings
		if conv, ok := s.Current(); !ok || conv.ModelID == "" {
			s.SelectedModelID = o.resolveModel(conv, settings)
		}
	})
	return nil
}

func (o *Orchestrator) SetSearchEnabled(enabled bool) {
	o.update(func(s *State) {
		s.SearchEnabled = enabled
	})
}

// EffectiveModel is the conversation's override, else the configured
// default, else the first catalog entry.
func (o *Orchestrator) EffectiveModel(conv models.Conversation) string {
	o.mu.Lock()
	settings := o.state.Settings
	o.mu.Unlock()
	return o.resolveModel(conv, settings)
}

func (o *Orchestrator) resolveModel(conv models.Conversation, settings models.Settings) string {
	switch {
	case conv.ModelID != "":
		return conv.ModelID
	case settings.DefaultModelID != "":
		return settings.DefaultModelID
	default:
		return o.catalog.First().ID
	}
}

func (o *Orchestrator) Export() (models.Backup, error) {
	backup, err := o.store.Export()
	if err != nil {
		return backup, fmt.Errorf("failed to export: %w", err)
	}
	return backup, nil
}

// Import merges a backup into the store and reloads the session. The open
// conversation stays selected when it still exists.
func (o *Orchestrator) Import(backup models.Backup) error {
	o.mu.Lock()
	busy := o.busy()
	current := o.state.CurrentID
	o.mu.Unlock()
	if busy {
		return ErrBusy
	}

	if err := o.store.Restore(backup); err != nil {
		return fmt.Errorf("failed to import: %w", err)
	}
	if err := o.Load(); err != nil {
		return err
	}
	if current != "" {
		if err := o.SelectConversation(current); err != nil && !errors.Is(err, ErrUnknownConversation) {
			return err
		}
	}
	o.logger.Info("backup imported", zap.Int("conversations", len(backup.Conversations)))
	return nil
}

// Wait blocks until background title generation has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// busy reports whether a live turn is running, or a stopped one is still
// waiting for its model load to return. Callers hold o.mu.
func (o *Orchestrator) busy() bool {
	return o.turn != nil && (!o.turn.stopped || o.turn.loading)
}

func (o *Orchestrator) generatingIn(convID string) bool {
	return o.busy() && o.turn.convID == convID
}

// update applies fn under the lock and then notifies subscribers.
func (o *Orchestrator) update(fn func(s *State)) {
	o.mu.Lock()
	fn(&o.state)
	snapshot := o.state.clone()
	subs := make([]func(State), 0, len(o.subs))
	for _, sub := range o.subs {
		subs = append(subs, sub)
	}
	o.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
}

func (o *Orchestrator) persistConversation(conv models.Conversation) {
	if err := o.store.SaveConversation(conv); err != nil {
		o.logger.Error("failed to save conversation",
			zap.String("conversation", conv.ID),
			zap.Error(err))
	}
}

func (o *Orchestrator) persistMessages(convID string, messages []models.Message) {
	if err := o.store.SaveMessages(convID, messages); err != nil {
		o.logger.Error("failed to save messages",
			zap.String("conversation", convID),
			zap.Error(err))
	}
}

func sortByRecent(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
}
