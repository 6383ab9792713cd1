package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusy rejects starting a session while another is in progress.
var ErrBusy = errors.New("session: process is already running a session")

// Process runs a queue of sessions one after another.
type Process struct {
	ID          string
	Name        string
	Description string

	logger *zap.Logger

	mu        sync.Mutex
	pending   []*Session
	completed []*Session
	failed    []*Session
	busy      bool
}

// NewProcess creates an empty process.
func NewProcess(name, description string, opts ...Option) *Process {
	o := newOptions(opts)
	id := uuid.NewString()
	return &Process{
		ID:          id,
		Name:        name,
		Description: description,
		logger:      o.logger.With(zap.String("process", id)),
	}
}

// AddSession appends s to the queue.
func (p *Process) AddSession(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, s)
}

// Pending returns the sessions still queued.
func (p *Process) Pending() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.pending...)
}

// Completed returns the sessions that ran successfully, in order.
func (p *Process) Completed() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.completed...)
}

// Failed returns the sessions that ended with ErrFailed, in order.
func (p *Process) Failed() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.failed...)
}

// RunNext runs the session at the head of the queue. An empty queue is a
// no-op that returns a nil snapshot. A session whose results could not be
// saved stays queued so the save can be retried; any other failure moves it
// to Failed.
func (p *Process) RunNext(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		p.logger.Info("no sessions left to run")
		return nil, nil
	}
	next := p.pending[0]
	p.busy = true
	p.mu.Unlock()

	snap, err := next.Run(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
	if err != nil {
		if errors.Is(err, ErrFailed) {
			p.pending = p.pending[1:]
			p.failed = append(p.failed, next)
		}
		return nil, err
	}
	p.pending = p.pending[1:]
	p.completed = append(p.completed, next)
	return snap, nil
}

// RunAll drains the queue, stopping at the first failure.
func (p *Process) RunAll(ctx context.Context) ([]*Snapshot, error) {
	var out []*Snapshot
	for len(p.Pending()) > 0 {
		snap, err := p.RunNext(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	p.logger.Info("process complete", zap.Int("sessions", len(out)))
	return out, nil
}
