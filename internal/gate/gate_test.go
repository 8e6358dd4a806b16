package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memOnboarding struct {
	mu       sync.Mutex
	complete bool
	err      error
}

func (m *memOnboarding) IsOnboardingComplete() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete, m.err
}

func (m *memOnboarding) SetOnboardingComplete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complete = true
	return nil
}

var mandatory = []string{"llama3.2:1b", "gemma2:2b"}

func newTestGate(t *testing.T, engine *llmtest.Engine, delay time.Duration) (*Gate, *memOnboarding) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := &memOnboarding{}
	g := New(llm.NewManager(engine, logger), store, mandatory, delay, logger)
	t.Cleanup(g.Wait)
	return g, store
}

func TestStartDownloadsMandatoryModels(t *testing.T) {
	engine := llmtest.NewEngine()
	g, _ := newTestGate(t, engine, 10*time.Millisecond)

	assert.False(t, g.Ready())
	st := g.Status()
	assert.False(t, st.Ready)
	require.Len(t, st.Models, 2)
	assert.Equal(t, "Waiting", st.Models[0].Progress.Text)

	g.Start(context.Background())
	g.Wait()

	assert.True(t, g.Ready())
	assert.ElementsMatch(t, mandatory, engine.Loads())
	assert.ElementsMatch(t, mandatory, engine.Releases())

	st = g.Status()
	assert.True(t, st.Ready)
	assert.False(t, st.Downloading)
	for _, m := range st.Models {
		assert.True(t, m.Ready, m.ID)
		assert.Equal(t, llm.Ready, m.Progress)
	}
}

func TestStartSkipsCachedModels(t *testing.T) {
	engine := llmtest.NewEngine(mandatory...)
	g, _ := newTestGate(t, engine, 0)

	g.Start(context.Background())
	g.Wait()

	assert.True(t, g.Ready())
	assert.Empty(t, engine.Loads())
}

func TestStartCancelledDuringDelay(t *testing.T) {
	engine := llmtest.NewEngine()
	g, _ := newTestGate(t, engine, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	assert.True(t, g.Status().Downloading)
	cancel()
	g.Wait()

	assert.Empty(t, engine.Loads())
	assert.False(t, g.Ready())
}

func TestRetryAfterFailure(t *testing.T) {
	engine := llmtest.NewEngine()
	engine.LoadErr = errors.New("network unreachable")
	g, _ := newTestGate(t, engine, 0)

	g.Start(context.Background())
	g.Wait()
	assert.False(t, g.Ready())
	for _, m := range g.Status().Models {
		assert.Contains(t, m.Progress.Text, "Failed")
	}

	engine.LoadErr = nil
	require.True(t, g.Retry(context.Background()))
	g.Wait()
	assert.True(t, g.Ready())
	assert.Len(t, engine.Loads(), 4)

	// nothing left to fetch
	require.True(t, g.Retry(context.Background()))
	g.Wait()
	assert.Len(t, engine.Loads(), 4)
}

func TestRetryWhileRunning(t *testing.T) {
	engine := llmtest.NewEngine()
	g, _ := newTestGate(t, engine, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	assert.False(t, g.Retry(ctx))
	cancel()
}

func TestOnboarding(t *testing.T) {
	g, store := newTestGate(t, llmtest.NewEngine(), 0)

	assert.True(t, g.ShowIntro())
	require.NoError(t, g.CompleteOnboarding())
	assert.False(t, g.ShowIntro())
	assert.False(t, g.Status().ShowIntro)

	store.err = errors.New("disk gone")
	assert.True(t, g.ShowIntro())
}

func TestNoMandatoryModels(t *testing.T) {
	logger := zaptest.NewLogger(t)
	g := New(llm.NewManager(llmtest.NewEngine(), logger), &memOnboarding{}, nil, 0, logger)
	assert.True(t, g.Ready())
	assert.True(t, g.Status().Ready)
}
