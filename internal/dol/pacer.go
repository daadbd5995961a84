package dol

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum spacing between upstream requests issued by any
// goroutine in the process. Requests run one at a time, and a new request
// starts no earlier than interval after the previous one completed.
type Pacer struct {
	interval time.Duration
	slot     chan struct{} // held from Acquire until release

	mu   sync.Mutex
	last time.Time
}

// NewPacer returns a Pacer. A zero interval disables waiting.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		slot:     make(chan struct{}, 1),
	}
}

// Acquire blocks until the caller may dispatch a request. The returned
// release func must be called once the request has completed; no other
// caller is admitted before that.
func (p *Pacer) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	next := p.last.Add(p.interval)
	p.mu.Unlock()

	if wait := time.Until(next); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-p.slot
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mark(time.Now())
			<-p.slot
		})
	}, nil
}

func (p *Pacer) mark(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.After(p.last) {
		p.last = t
	}
}
