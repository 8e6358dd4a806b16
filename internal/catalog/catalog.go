// Package catalog holds the table of models the app can run and the
// device-class filter over it.
package catalog

import (
	"regexp"
	"strings"
)

// DefaultContextWindow is used for models that do not declare one.
const DefaultContextWindow = 4096

type ModelDescriptor struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	MemoryRequiredMB int    `json:"memoryRequiredMB" yaml:"memory_required_mb"`
	LowResource      bool   `json:"lowResource" yaml:"low_resource"` // eligible on constrained devices
	ContextWindow    int    `json:"contextWindow" yaml:"context_window"`
}

// DeviceProfile describes what the host can run.
type DeviceProfile struct {
	Constrained bool `json:"constrained"`
}

var defaultModels = []ModelDescriptor{
	{
		ID:               "llama3.2:1b",
		Name:             "Llama 3.2 1B (Fastest)",
		MemoryRequiredMB: 1000,
		LowResource:      true,
		ContextWindow:    128000,
	},
	{
		ID:               "llama3.2:3b",
		Name:             "Llama 3.2 3B (Balanced)",
		MemoryRequiredMB: 2500,
		LowResource:      false,
		ContextWindow:    128000,
	},
	{
		ID:               "gemma2:2b",
		Name:             "Gemma 2 2B",
		MemoryRequiredMB: 1500,
		LowResource:      true,
		ContextWindow:    8192,
	},
}

type Catalog struct {
	models []ModelDescriptor
	byID   map[string]int
}

// New builds a catalog from the default table followed by extra entries.
// Extras reusing a known id are skipped.
func New(extra ...ModelDescriptor) *Catalog {
	c := &Catalog{byID: make(map[string]int)}
	for _, m := range defaultModels {
		c.add(m)
	}
	for _, m := range extra {
		if m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = FormatName(m.ID)
		}
		if m.ContextWindow <= 0 {
			m.ContextWindow = DefaultContextWindow
		}
		if m.MemoryRequiredMB <= 0 {
			m.MemoryRequiredMB = 4000
		}
		c.add(m)
	}
	return c
}

func (c *Catalog) add(m ModelDescriptor) {
	if _, ok := c.byID[m.ID]; ok {
		return
	}
	c.byID[m.ID] = len(c.models)
	c.models = append(c.models, m)
}

func (c *Catalog) All() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

// Available returns the models the given device can run.
func (c *Catalog) Available(profile DeviceProfile) []ModelDescriptor {
	if !profile.Constrained {
		return c.All()
	}
	var out []ModelDescriptor
	for _, m := range c.models {
		if m.LowResource {
			out = append(out, m)
		}
	}
	return out
}

func (c *Catalog) Lookup(id string) (ModelDescriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return c.models[i], true
}

func (c *Catalog) First() ModelDescriptor {
	return c.models[0]
}

func (c *Catalog) ContextWindow(id string) int {
	if m, ok := c.Lookup(id); ok {
		return m.ContextWindow
	}
	return DefaultContextWindow
}

var variantSuffix = regexp.MustCompile(`(-MLC.*|:latest)$`)

// FormatName derives a display name from a model id,
// e.g. "Qwen2.5-7B-Instruct-q4f16_1-MLC" -> "Qwen2.5 7B Instruct q4f16_1".
func FormatName(id string) string {
	name := variantSuffix.ReplaceAllString(id, "")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.ReplaceAll(name, ":", " ")
}
