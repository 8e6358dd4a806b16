// Package gate keeps chat unavailable until the mandatory models are on disk.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/RichardoC/localchat/internal/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultDelay = 500 * time.Millisecond

type Downloader interface {
	Download(ctx context.Context, modelID string, onProgress llm.ProgressFunc)
	Status(modelID string) (llm.Progress, bool)
	IsReady(modelID string) bool
}

type OnboardingStore interface {
	IsOnboardingComplete() (bool, error)
	SetOnboardingComplete() error
}

type ModelStatus struct {
	ID       string       `json:"id"`
	Progress llm.Progress `json:"progress"`
	Ready    bool         `json:"ready"`
}

// Status is what the loading screen shows.
type Status struct {
	Ready       bool          `json:"ready"`
	Downloading bool          `json:"downloading"`
	ShowIntro   bool          `json:"showIntro"`
	Models      []ModelStatus `json:"models"`
}

type Gate struct {
	models    Downloader
	store     OnboardingStore
	mandatory []string
	delay     time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	done chan struct{}
}

func New(models Downloader, store OnboardingStore, mandatory []string, delay time.Duration, logger *zap.Logger) *Gate {
	return &Gate{
		models:    models,
		store:     store,
		mandatory: mandatory,
		delay:     delay,
		logger:    logger,
	}
}

// Start downloads every mandatory model after the startup delay. It returns
// immediately; use Wait to block until the downloads end.
func (g *Gate) Start(ctx context.Context) {
	g.run(ctx, g.delay)
}

// Retry downloads the mandatory models that are not ready yet. It reports
// false when downloads are already running.
func (g *Gate) Retry(ctx context.Context) bool {
	return g.run(ctx, 0)
}

func (g *Gate) run(ctx context.Context, delay time.Duration) bool {
	g.mu.Lock()
	if g.running() {
		g.mu.Unlock()
		return false
	}
	done := make(chan struct{})
	g.done = done
	g.mu.Unlock()

	go func() {
		defer close(done)
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		g.download(ctx)
	}()
	return true
}

func (g *Gate) download(ctx context.Context) {
	var eg errgroup.Group
	for _, id := range g.mandatory {
		if g.models.IsReady(id) {
			continue
		}
		eg.Go(func() error {
			g.logger.Info("downloading mandatory model", zap.String("model", id))
			g.models.Download(ctx, id, nil)
			return nil
		})
	}
	eg.Wait()

	if g.Ready() {
		g.logger.Info("all mandatory models ready", zap.Strings("models", g.mandatory))
	} else {
		g.logger.Warn("some mandatory models failed to download", zap.Strings("models", g.mandatory))
	}
}

// running reports whether downloads are in progress. Callers hold g.mu.
func (g *Gate) running() bool {
	if g.done == nil {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current downloads end.
func (g *Gate) Wait() {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Ready reports whether chat can be used.
func (g *Gate) Ready() bool {
	for _, id := range g.mandatory {
		if !g.models.IsReady(id) {
			return false
		}
	}
	return true
}

func (g *Gate) ShowIntro() bool {
	complete, err := g.store.IsOnboardingComplete()
	if err != nil {
		g.logger.Error("failed to read onboarding state", zap.Error(err))
		return true
	}
	return !complete
}

func (g *Gate) CompleteOnboarding() error {
	return g.store.SetOnboardingComplete()
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	downloading := g.running()
	g.mu.Unlock()

	st := Status{
		Ready:       true,
		Downloading: downloading,
		ShowIntro:   g.ShowIntro(),
		Models:      make([]ModelStatus, 0, len(g.mandatory)),
	}
	for _, id := range g.mandatory {
		p, ok := g.models.Status(id)
		if !ok {
			p = llm.Progress{Text: "Waiting"}
		}
		ready := p.IsReady()
		st.Ready = st.Ready && ready
		st.Models = append(st.Models, ModelStatus{ID: id, Progress: p, Ready: ready})
	}
	return st
}
