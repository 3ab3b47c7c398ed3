package worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
)

// BuildFunc assembles a Handler.
type BuildFunc func(ctx context.Context) (*Handler, error)

// Lazy builds its Handler on the first notification and reuses it for the
// lifetime of the process. A failed build is not kept: the next
// notification tries again.
type Lazy struct {
	build BuildFunc

	mu      sync.Mutex
	handler *Handler
}

// NewLazy creates a Lazy around build.
func NewLazy(build BuildFunc) *Lazy {
	return &Lazy{build: build}
}

// Handle builds the Handler if needed and passes n to it.
func (l *Lazy) Handle(ctx context.Context, n events.S3Event) error {
	h, err := l.get(ctx)
	if err != nil {
		return err
	}
	return h.Handle(ctx, n)
}

func (l *Lazy) get(ctx context.Context) (*Handler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handler != nil {
		return l.handler, nil
	}
	h, err := l.build(ctx)
	if err != nil {
		return nil, err
	}
	l.handler = h
	return h, nil
}
