package mux

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/progrium/chanmux/mux/frame"
)

// pipe is an in-memory, ordered message link into a multiplexer. A pump
// goroutine delivers queued messages one at a time, like a transport reader.
type pipe struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []frame.Message
	sent    []frame.Message
	errs    []error
	closed  bool
	sendErr func(frame.Message) error

	target *Multiplexer
}

func newPipe() *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipe) Send(msg frame.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	if p.sendErr != nil {
		if err := p.sendErr(msg); err != nil {
			return err
		}
	}
	p.sent = append(p.sent, msg)
	p.queue = append(p.queue, msg)
	p.cond.Signal()
	return nil
}

func (p *pipe) run() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		msg := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := p.target.Receive(msg); err != nil {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		}
	}
}

func (p *pipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

func (p *pipe) receiveErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

func (p *pipe) sentKinds() []frame.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kinds []frame.Kind
	for _, msg := range p.sent {
		kinds = append(kinds, msg.Kind())
	}
	return kinds
}

// newPair returns two multiplexers connected by pipes. a allocates odd ids
// and b even ones. aToB carries what a sends.
func newPair(t *testing.T) (a, b *Multiplexer, aToB, bToA *pipe) {
	t.Helper()
	aToB, bToA = newPipe(), newPipe()
	a = New(aToB, WithIDGenerator(NewSequence(1, 2)))
	b = New(bToA, WithIDGenerator(NewSequence(2, 2)))
	aToB.target = b
	bToA.target = a
	go aToB.run()
	go bToA.run()
	t.Cleanup(func() {
		aToB.close()
		bToA.close()
	})
	return a, b, aToB, bToA
}

// collector is a listener that forwards payloads to a Go channel.
type collector chan any

func (c collector) HandlePayload(ch *Channel, payload any) {
	c <- payload
}

func (c collector) next(t *testing.T) any {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func (c collector) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case v := <-c:
		t.Fatalf("unexpected payload: %v", v)
	case <-time.After(d):
	}
}

func waitFor(t *testing.T, c <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
