package mux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/progrium/chanmux/mux/frame"
)

// State is the lifecycle state of a Channel. States only move forward:
// opening, open, closed; or opening straight to closed.
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Listener receives the payloads that arrive on a channel.
type Listener interface {
	HandlePayload(ch *Channel, payload any)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ch *Channel, payload any)

func (f ListenerFunc) HandlePayload(ch *Channel, payload any) {
	f(ch, payload)
}

// ListenerHandle identifies a registered listener for removal.
type ListenerHandle uint64

type listenerEntry struct {
	handle   ListenerHandle
	listener Listener
}

// notifier is the channel's view of its multiplexer. The multiplexer owns
// its channels; a channel only uses it to transmit and to report closure.
type notifier interface {
	send(msg frame.Message) error
	channelClosed(ch *Channel)
}

// Channel is one logical, ordered conversation multiplexed over a shared
// connection.
type Channel struct {
	id     uint64
	typ    string
	owner  notifier
	logger hclog.Logger

	// mu serializes state transitions, the queue, listeners and every
	// transmission made on behalf of this channel, which keeps payloads
	// in send order on the wire.
	mu           sync.Mutex
	state        State
	queue        []any
	listeners    []listenerEntry
	nextListener ListenerHandle

	// opened is closed when the channel leaves StateOpening.
	opened chan struct{}
	done   chan struct{}
}

func newChannel(id uint64, typ string, owner notifier, logger hclog.Logger) *Channel {
	return &Channel{
		id:     id,
		typ:    typ,
		owner:  owner,
		logger: logger,
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ID returns the unique identifier of this channel
// within the multiplexer
func (ch *Channel) ID() uint64 {
	return ch.id
}

// Type returns the payload type the channel was opened for.
func (ch *Channel) Type() string {
	return ch.typ
}

// Done is closed once the channel is closed, by either side.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) String() string {
	return fmt.Sprintf("channel(%d %s %s)", ch.id, ch.typ, ch.State())
}

// Send transmits payload to the remote side. While the channel is still
// opening the payload is queued and sent, in order, once the channel opens.
// Queued payloads are discarded if the channel closes before opening.
func (ch *Channel) Send(payload any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch ch.state {
	case StateClosed:
		return ErrClosed
	case StateOpening:
		ch.queue = append(ch.queue, payload)
		return nil
	}
	return ch.owner.send(frame.DataMessage{ChannelID: ch.id, Payload: payload})
}

// AddListener registers l to be called for every payload received on the
// channel. Listeners are called in registration order.
func (ch *Channel) AddListener(l Listener) ListenerHandle {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.nextListener++
	ch.listeners = append(ch.listeners, listenerEntry{handle: ch.nextListener, listener: l})
	return ch.nextListener
}

// RemoveListener unregisters the listener identified by h and reports
// whether it was registered.
func (ch *Channel) RemoveListener(h ListenerHandle) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i, e := range ch.listeners {
		if e.handle == h {
			listeners := make([]listenerEntry, 0, len(ch.listeners)-1)
			listeners = append(listeners, ch.listeners[:i]...)
			ch.listeners = append(listeners, ch.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Close closes the channel and tells the remote side. Closing a closed
// channel does nothing. The channel is closed locally even when the close
// message cannot be sent; that send error is returned.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return nil
	}
	err := ch.owner.send(frame.CloseMessage{ChannelID: ch.id})
	if err != nil {
		ch.logger.Warn("failed to send close", "channel", ch.id, "error", err)
	}
	ch.shutdown()
	ch.mu.Unlock()

	ch.owner.channelClosed(ch)
	return err
}

// sendControl transmits a handshake message for this channel unless it is
// already closed. Holding the lock keeps it ordered with Close.
func (ch *Channel) sendControl(msg frame.Message) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == StateClosed {
		return ErrClosed
	}
	return ch.owner.send(msg)
}

// WaitToOpen blocks until the channel leaves StateOpening and returns the
// state it moved to. A zero timeout waits until ctx is done.
func (ch *Channel) WaitToOpen(ctx context.Context, timeout time.Duration) (State, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-ch.opened:
		return ch.State(), nil
	case <-expired:
		return StateOpening, ErrTimeout
	case <-ctx.Done():
		return ch.State(), interrupted(ctx.Err())
	}
}

// receive hands payload to every listener. Listeners run outside the
// channel lock so they may send on or close the channel themselves.
func (ch *Channel) receive(payload any) error {
	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return ErrClosed
	}
	listeners := make([]listenerEntry, len(ch.listeners))
	copy(listeners, ch.listeners)
	ch.mu.Unlock()

	for _, e := range listeners {
		ch.dispatch(e.listener, payload)
	}
	return nil
}

func (ch *Channel) dispatch(l Listener, payload any) {
	defer func() {
		if p := recover(); p != nil {
			ch.logger.Error("listener panicked", "channel", ch.id, "panic", p)
		}
	}()
	l.HandlePayload(ch, payload)
}

// setState moves the channel to s. Opening flushes the queue in order.
func (ch *Channel) setState(s State) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch {
	case ch.state == s:
		return nil
	case ch.state == StateClosed:
		return ErrClosed
	case s < ch.state:
		return fmt.Errorf("mux: invalid transition from %s to %s", ch.state, s)
	}

	if s == StateClosed {
		ch.shutdown()
		return nil
	}

	ch.state = StateOpen
	close(ch.opened)
	return ch.flush()
}

// flush sends queued payloads. Called with ch.mu held.
func (ch *Channel) flush() error {
	queue := ch.queue
	ch.queue = nil
	for i, payload := range queue {
		if err := ch.owner.send(frame.DataMessage{ChannelID: ch.id, Payload: payload}); err != nil {
			return fmt.Errorf("mux: flushed %d of %d queued payloads: %w", i, len(queue), err)
		}
	}
	return nil
}

// shutdown marks the channel closed and abandons anything still queued.
// Called with ch.mu held.
func (ch *Channel) shutdown() {
	if ch.state == StateOpening {
		close(ch.opened)
	}
	if n := len(ch.queue); n > 0 {
		ch.logger.Debug("abandoning queued payloads", "channel", ch.id, "count", n)
	}
	ch.state = StateClosed
	ch.queue = nil
	close(ch.done)
}
