// Package listener runs a handler in the background for every value sent
// on a channel.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	errListenerStopped = errors.New("listener stopped")
)

type Job interface {
	Start(ctx context.Context)
	Stop()
}

type Listener[T any] struct {
	name        string
	handler     func(input T) error
	stopHandler func()
	logger      *slog.Logger

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

// New creates a listener reading from in. Handler errors are logged and do
// not stop the listener; it stops on Stop or when in is closed.
func New[T any](
	name string,
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		name:        name,
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
		logger:      slog.Default(),
	}
}

// WithLogger replaces the logger used to report handler errors.
func (l *Listener[T]) WithLogger(logger *slog.Logger) *Listener[T] {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			err := l.run(ctx)
			switch {
			case errors.Is(err, errListenerStopped):
				return
			case err != nil:
				l.logger.Error("listener failed to handle input", "listener", l.name, "error", err)
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return errListenerStopped
		}
		return l.handler(inp)
	case <-ctx.Done():
		return errListenerStopped
	}
}

// Stop waits for the running handler to return, then calls the stop handler.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
