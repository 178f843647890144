package mux

import (
	"context"
	"sync"
)

// Outcome is the resolution of a channel open request.
type Outcome int

const (
	OutcomeWaiting Outcome = iota
	OutcomeAccepted
	OutcomeRefused
)

// request tracks an outbound open handshake until the remote side answers
// or the request is abandoned.
type request struct {
	ch      *Channel
	typ     string
	initial any

	once    sync.Once
	done    chan struct{}
	outcome Outcome
	err     error
}

func newRequest(ch *Channel, typ string, initial any) *request {
	return &request{
		ch:      ch,
		typ:     typ,
		initial: initial,
		done:    make(chan struct{}),
	}
}

// resolve records the outcome once. Later calls are ignored.
func (r *request) resolve(outcome Outcome, err error) {
	r.once.Do(func() {
		r.outcome = outcome
		r.err = err
		close(r.done)
	})
}

// result must only be called after done is closed.
func (r *request) result() (*Channel, error) {
	if r.outcome != OutcomeAccepted {
		return nil, r.err
	}
	return r.ch, nil
}

// Future is the handle returned by EstablishChannelAsync.
type Future struct {
	m   *Multiplexer
	req *request
}

// Channel returns the channel being established. It can be used before the
// future resolves; payloads sent on it are queued until it opens.
func (f *Future) Channel() *Channel {
	return f.req.ch
}

// Done is closed once the request was accepted, refused or abandoned.
func (f *Future) Done() <-chan struct{} {
	return f.req.done
}

// Outcome reports the current state of the request.
func (f *Future) Outcome() Outcome {
	select {
	case <-f.req.done:
		return f.req.outcome
	default:
		return OutcomeWaiting
	}
}

// Wait blocks until the future resolves or ctx is done. A cancelled ctx
// does not abandon the request; use Cancel for that.
func (f *Future) Wait(ctx context.Context) (*Channel, error) {
	select {
	case <-f.req.done:
		return f.req.result()
	case <-ctx.Done():
		return nil, interrupted(ctx.Err())
	}
}

// Cancel abandons the request if it is still waiting. A late answer from the
// remote side is then ignored.
func (f *Future) Cancel() {
	f.m.abandon(f.req, interrupted(context.Canceled))
}
