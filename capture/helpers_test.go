package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bodyOf(b []byte) BodyFunc {
	return func(context.Context) ([]byte, error) { return b, nil }
}

var errTargetClosed = errors.New("Target closed")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakePlayer records calls.
type fakePlayer struct {
	mu       sync.Mutex
	duration float64
	prepared float64
	seeks    []float64
	seekErr  error
}

func (p *fakePlayer) Prepare(_ context.Context, rate float64) error {
	p.mu.Lock()
	p.prepared = rate
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Duration(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration, nil
}

func (p *fakePlayer) SeekTo(_ context.Context, s float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seekErr != nil {
		return p.seekErr
	}
	p.seeks = append(p.seeks, s)
	return nil
}

func (p *fakePlayer) Seeks() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.seeks...)
}
