package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableFiltersConstrainedDevices(t *testing.T) {
	c := New()

	all := c.Available(DeviceProfile{})
	assert.Len(t, all, 3)

	small := c.Available(DeviceProfile{Constrained: true})
	require.Len(t, small, 2)
	for _, m := range small {
		assert.True(t, m.LowResource, m.ID)
	}
}

func TestNewWithExtraModels(t *testing.T) {
	c := New(
		ModelDescriptor{ID: "qwen2.5:7b"},
		ModelDescriptor{ID: "llama3.2:1b", Name: "duplicate"},
		ModelDescriptor{ID: "phi3:mini", Name: "Phi 3", ContextWindow: 2048, LowResource: true},
		ModelDescriptor{},
	)

	all := c.All()
	require.Len(t, all, 5)

	qwen, ok := c.Lookup("qwen2.5:7b")
	require.True(t, ok)
	assert.Equal(t, "qwen2.5 7b", qwen.Name)
	assert.Equal(t, DefaultContextWindow, qwen.ContextWindow)
	assert.Equal(t, 4000, qwen.MemoryRequiredMB)

	llama, _ := c.Lookup("llama3.2:1b")
	assert.Equal(t, "Llama 3.2 1B (Fastest)", llama.Name)

	assert.Equal(t, 2048, c.ContextWindow("phi3:mini"))
	assert.Len(t, c.Available(DeviceProfile{Constrained: true}), 3)
}

func TestContextWindowAndFirst(t *testing.T) {
	c := New()
	assert.Equal(t, "llama3.2:1b", c.First().ID)
	assert.Equal(t, 8192, c.ContextWindow("gemma2:2b"))
	assert.Equal(t, DefaultContextWindow, c.ContextWindow("unknown"))
}

func TestFormatName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"Qwen2.5-7B-Instruct-q4f16_1-MLC", "Qwen2.5 7B Instruct q4f16_1"},
		{"mistral:latest", "mistral"},
		{"deepseek-r1:8b", "deepseek r1 8b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatName(tt.id), tt.id)
	}
}
