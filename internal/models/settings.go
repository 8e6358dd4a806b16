package models

const (
	ProviderDefault   = "default"
	ProviderWikipedia = "wikipedia"
	ProviderGoogle    = "google"
)

type Settings struct {
	DefaultModelID  string `json:"defaultModelId,omitempty"`
	SystemPrompt    string `json:"systemPrompt,omitempty"`
	SearchProvider  string `json:"searchProvider"`
	GoogleAPIKey    string `json:"googleApiKey"`
	GoogleCX        string `json:"googleCx"`
	SummarizeSearch bool   `json:"summarizeSearch,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{SearchProvider: ProviderWikipedia}
}

// Backup is the full-state export document.
type Backup struct {
	Settings      *Settings            `json:"settings,omitempty"`
	Conversations []Conversation       `json:"conversations"`
	Messages      map[string][]Message `json:"messages"`
}
