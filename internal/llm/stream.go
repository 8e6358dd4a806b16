package llm

import (
	"context"
	"strings"
)

// Generator produces a response, calling emit with each new piece of text.
// emit fails once the stream is cancelled.
type Generator func(ctx context.Context, emit func(delta string) error) error

// Stream is a cancellable generation in progress. Updates yields the text
// generated so far, growing with every value; Wait returns the final text.
type Stream struct {
	updates chan string
	done    chan struct{}
	cancel  context.CancelFunc

	text string
	err  error
}

func NewStream(ctx context.Context, gen Generator) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		updates: make(chan string, 16),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(ctx, gen)
	return s
}

func (s *Stream) run(ctx context.Context, gen Generator) {
	defer close(s.done)
	defer close(s.updates)
	defer s.cancel()

	var sb strings.Builder
	err := gen(ctx, func(delta string) error {
		if err := ctx.Err(); err != nil || delta == "" {
			return err
		}
		sb.WriteString(delta)
		select {
		case s.updates <- sb.String():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err == nil {
		err = ctx.Err()
	}
	s.text, s.err = sb.String(), err
}

// Updates is closed when generation ends. Callers must drain it.
func (s *Stream) Updates() <-chan string {
	return s.updates
}

// Wait blocks until generation ends. A cancelled stream returns the text
// produced before cancellation along with context.Canceled.
func (s *Stream) Wait() (string, error) {
	<-s.done
	return s.text, s.err
}

func (s *Stream) Cancel() {
	s.cancel()
}
