package chat

import (
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/models"
)

// Phase is where the current turn is.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAwaitingModel Phase = "awaiting_model"
	PhaseSearching     Phase = "searching"
	PhaseBudgeting     Phase = "budgeting"
	PhaseGenerating    Phase = "generating"
	PhaseFinalizing    Phase = "finalizing"
)

// State is what the presentation layer renders. Draft is the assistant reply
// being streamed; it is never part of Messages until it has been saved.
type State struct {
	Conversations   []models.Conversation `json:"conversations"`
	CurrentID       string                `json:"currentId,omitempty"`
	Messages        []models.Message      `json:"messages"`
	Draft           *models.Message       `json:"draft,omitempty"`
	Phase           Phase                 `json:"phase"`
	IsGenerating    bool                  `json:"isGenerating"`
	ModelLoading    *llm.Progress         `json:"modelLoading,omitempty"`
	InputDisabled   bool                  `json:"inputDisabled"`
	SelectedModelID string                `json:"selectedModelId"`
	ActiveModelID   string                `json:"activeModelId,omitempty"`
	Settings        models.Settings       `json:"settings"`
	SearchEnabled   bool                  `json:"searchEnabled"`
	LastError       string                `json:"lastError,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Conversations = append([]models.Conversation{}, s.Conversations...)
	out.Messages = append([]models.Message{}, s.Messages...)
	if s.Draft != nil {
		d := *s.Draft
		out.Draft = &d
	}
	if s.ModelLoading != nil {
		p := *s.ModelLoading
		out.ModelLoading = &p
	}
	out.InputDisabled = s.IsGenerating || s.ModelLoading != nil
	return out
}

// Current returns the selected conversation.
func (s State) Current() (models.Conversation, bool) {
	return s.find(s.CurrentID)
}

func (s State) find(id string) (models.Conversation, bool) {
	if id == "" {
		return models.Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func (s *State) replace(conv models.Conversation) {
	for i := range s.Conversations {
		if s.Conversations[i].ID == conv.ID {
			s.Conversations[i] = conv
			return
		}
	}
}
