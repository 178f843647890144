// Package mux lets independent logical channels share one ordered, reliable
// message connection. Channels are opened with a NEW/OK/REFUSED handshake,
// routed by id, and torn down with CLOSE from either side.
package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/progrium/chanmux/mux/frame"
)

// maxIDAttempts bounds how often a colliding id is redrawn.
const maxIDAttempts = 16

// maxTombstones bounds how many recently closed channel ids are remembered.
const maxTombstones = 1024

// Sender transmits one message reliably and in order. It is the only
// capability the multiplexer needs from its transport.
type Sender interface {
	Send(msg frame.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg frame.Message) error

func (f SenderFunc) Send(msg frame.Message) error {
	return f(msg)
}

// Multiplexer routes inbound messages to channels, drives the open and
// close handshakes and keeps the handler registry. The transport feeds it
// through Receive; callers use it from any goroutine.
type Multiplexer struct {
	sender  Sender
	ids     IDGenerator
	logger  hclog.Logger
	timeout time.Duration

	idsFromConfig bool

	mu       sync.RWMutex
	channels map[uint64]*Channel
	handlers map[string]Handler
	accepted map[uint64]Handler
	requests map[uint64]*request
	closed   bool

	// tombstones holds recently closed ids, oldest first in buried, so
	// payloads racing a close are dropped rather than reported unknown.
	tombstones map[uint64]struct{}
	buried     []uint64

	invalidIDs string
}

// New returns a multiplexer that transmits through sender.
func New(sender Sender, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		sender:        sender,
		logger:        hclog.NewNullLogger(),
		idsFromConfig: true,
		channels:      make(map[uint64]*Channel),
		handlers:      make(map[string]Handler),
		accepted:      make(map[uint64]Handler),
		requests:      make(map[uint64]*request),
		tombstones:    make(map[uint64]struct{}),
	}
	WithConfig(DefaultConfig())(m)
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = NewXIDGenerator()
	}
	if m.invalidIDs != "" {
		m.logger.Warn("ignoring unknown id generator from config", "ids", m.invalidIDs)
	}
	return m
}

// AddHandler registers h for h.Type(), replacing any handler registered
// for the same type.
func (m *Multiplexer) AddHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[h.Type()] = h
}

// RemoveHandler unregisters the handler for typ and reports whether there
// was one. Channels it already accepted keep notifying it on close.
func (m *Multiplexer) RemoveHandler(typ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[typ]
	delete(m.handlers, typ)
	return ok
}

// Handler returns the handler that would receive open requests for typ:
// the one registered for typ itself, else the one registered for its
// nearest dotted ancestor ("a.b" for "a.b.c", then "a", then "").
func (m *Multiplexer) Handler(typ string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.handlerLocked(typ)
	return h, h != nil
}

func (m *Multiplexer) handlerLocked(typ string) Handler {
	for {
		if h, ok := m.handlers[typ]; ok {
			return h
		}
		parent, ok := parentType(typ)
		if !ok {
			return nil
		}
		typ = parent
	}
}

// GetChannel returns the open channel with the given id.
func (m *Multiplexer) GetChannel(id uint64) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Channels returns a snapshot of the registered channels.
func (m *Multiplexer) Channels() []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	return chans
}

// Logger returns the logger the multiplexer was configured with.
func (m *Multiplexer) Logger() hclog.Logger {
	return m.logger
}

func (m *Multiplexer) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// EstablishChannel opens a channel of payload type typ on the remote side
// and blocks until it is accepted or refused. initial, if not nil, is
// handed to the remote handler. Listeners are attached before the request
// is sent so no payload from the remote side is missed.
//
// A zero timeout uses the configured establish timeout. On timeout or
// cancellation the request is abandoned and a late answer is ignored.
// A refusal is reported as a *DeclinedError.
func (m *Multiplexer) EstablishChannel(ctx context.Context, typ string, initial any, timeout time.Duration, listeners ...Listener) (*Channel, error) {
	req, err := m.register(typ, initial, listeners)
	if err != nil {
		return nil, err
	}
	if err := m.sendOpen(req); err != nil {
		return nil, err
	}

	if timeout == 0 {
		timeout = m.timeout
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-req.done:
		return req.result()
	case <-expired:
		return m.abandon(req, ErrTimeout)
	case <-ctx.Done():
		return m.abandon(req, interrupted(ctx.Err()))
	}
}

// EstablishChannelAsync starts opening a channel and returns without
// waiting for the remote side. The request is sent from a new goroutine;
// a send failure resolves the future with that error.
func (m *Multiplexer) EstablishChannelAsync(typ string, initial any, listeners ...Listener) (*Future, error) {
	req, err := m.register(typ, initial, listeners)
	if err != nil {
		return nil, err
	}
	go m.sendOpen(req)
	return &Future{m: m, req: req}, nil
}

func (m *Multiplexer) register(typ string, initial any, listeners []Listener) (*request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	id, err := m.freshIDLocked()
	if err != nil {
		return nil, err
	}
	ch := newChannel(id, typ, m, m.logger)
	for _, l := range listeners {
		ch.AddListener(l)
	}
	req := newRequest(ch, typ, initial)
	m.requests[id] = req
	return req, nil
}

func (m *Multiplexer) freshIDLocked() (uint64, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := m.ids.NextID()
		if _, ok := m.channels[id]; ok {
			continue
		}
		if _, ok := m.requests[id]; ok {
			continue
		}
		if _, ok := m.tombstones[id]; ok {
			continue
		}
		return id, nil
	}
	return 0, errors.New("mux: id generator keeps returning ids in use")
}

func (m *Multiplexer) sendOpen(req *request) error {
	err := req.ch.sendControl(frame.OpenMessage{
		ChannelID: req.ch.id,
		Type:      req.typ,
		Initial:   req.initial,
	})
	if err == nil || errors.Is(err, ErrClosed) {
		// a channel closed before its request went out already
		// resolved the request
		return err
	}
	if m.takeRequest(req) {
		req.ch.setState(StateClosed)
		req.resolve(OutcomeRefused, err)
	}
	return err
}

// abandon gives up on req with cause, unless it was resolved concurrently,
// in which case that result wins.
func (m *Multiplexer) abandon(req *request, cause error) (*Channel, error) {
	if !m.takeRequest(req) {
		<-req.done
		return req.result()
	}
	req.resolve(OutcomeRefused, cause)
	// The remote side may still accept; closing tells it to let go.
	req.ch.Close()
	return nil, cause
}

func (m *Multiplexer) takeRequest(req *request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requests[req.ch.id] != req {
		return false
	}
	delete(m.requests, req.ch.id)
	return true
}

func (m *Multiplexer) send(msg frame.Message) error {
	if err := m.sender.Send(msg); err != nil {
		return fmt.Errorf("mux: sending %s: %w", msg.Kind(), err)
	}
	return nil
}

// Receive handles one inbound message. The transport calls it for every
// message, in arrival order. Errors describe protocol anomalies for the
// transport to log; they never leave the multiplexer in a broken state.
func (m *Multiplexer) Receive(msg frame.Message) error {
	if m.IsClosed() {
		return ErrClosed
	}

	switch msg := msg.(type) {
	case frame.DataMessage:
		return m.handleData(msg)
	case frame.OpenMessage:
		return m.handleOpen(msg)
	case frame.OpenConfirmMessage:
		return m.handleOpenConfirm(msg)
	case frame.OpenFailureMessage:
		return m.handleOpenFailure(msg)
	case frame.CloseMessage:
		return m.handleClose(msg)
	default:
		return fmt.Errorf("mux: unexpected message %v", msg)
	}
}

func (m *Multiplexer) handleData(msg frame.DataMessage) error {
	m.mu.RLock()
	ch, ok := m.channels[msg.ChannelID]
	_, buried := m.tombstones[msg.ChannelID]
	m.mu.RUnlock()
	if !ok {
		if buried {
			m.logger.Warn("dropping payload for closed channel", "channel", msg.ChannelID)
			return nil
		}
		return fmt.Errorf("%w: %d", ErrUnknownChannel, msg.ChannelID)
	}
	if err := ch.receive(msg.Payload); err != nil {
		// the remote side may be racing our close
		m.logger.Warn("dropping payload for closed channel", "channel", ch.id)
	}
	return nil
}

func (m *Multiplexer) handleOpen(msg frame.OpenMessage) error {
	id := msg.ChannelID

	m.mu.RLock()
	_, dupChannel := m.channels[id]
	_, dupRequest := m.requests[id]
	h := m.handlerLocked(msg.Type)
	m.mu.RUnlock()

	if dupChannel || dupRequest {
		return m.refuse(id, "duplicate channel id", "")
	}
	if h == nil {
		m.logger.Debug("refusing channel without handler", "channel", id, "type", msg.Type)
		return m.refuse(id, fmt.Sprintf("no handler for type %q", msg.Type), "")
	}

	ch := newChannel(id, msg.Type, m, m.logger)
	if err := m.accept(h, ch, msg.Initial); err != nil {
		ch.setState(StateClosed)
		reason, cause := refusal(err)
		m.logger.Debug("channel declined", "channel", id, "type", msg.Type, "reason", reason, "cause", cause)
		return m.refuse(id, reason, cause)
	}
	// From here on the handler accepted the channel and is owed a Closed
	// call however the channel ends.
	if ch.State() == StateClosed {
		m.notifyClosed(h, ch)
		return m.refuse(id, "closed during accept", "")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ch.setState(StateClosed)
		m.notifyClosed(h, ch)
		return ErrClosed
	}
	m.channels[id] = ch
	m.accepted[id] = h
	delete(m.tombstones, id)
	m.mu.Unlock()

	if err := m.send(frame.OpenConfirmMessage{ChannelID: id}); err != nil {
		ch.setState(StateClosed)
		if h := m.unregister(ch); h != nil {
			m.notifyClosed(h, ch)
		}
		return err
	}

	err := ch.setState(StateOpen)
	if errors.Is(err, ErrClosed) {
		// Closed by someone holding the channel before we confirmed it, so
		// the remote side never saw that close. Say it again.
		if h := m.unregister(ch); h != nil {
			m.notifyClosed(h, ch)
		}
		return m.send(frame.CloseMessage{ChannelID: id})
	}
	return err
}

// accept runs the handler, treating a panic like a returned error.
func (m *Multiplexer) accept(h Handler, ch *Channel, initial any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.Accept(ch, initial)
}

func (m *Multiplexer) refuse(id uint64, reason, cause string) error {
	return m.send(frame.OpenFailureMessage{
		ChannelID: id,
		Reason:    reason,
		Cause:     cause,
	})
}

func (m *Multiplexer) handleOpenConfirm(msg frame.OpenConfirmMessage) error {
	id := msg.ChannelID

	m.mu.Lock()
	req, pending := m.requests[id]
	if pending {
		delete(m.requests, id)
		m.channels[id] = req.ch
	}
	ch, live := m.channels[id]
	m.mu.Unlock()

	if !pending {
		if !live {
			m.logger.Debug("ignoring confirmation for unknown channel", "channel", id)
			return nil
		}
		// duplicate or late confirmation
		if err := ch.setState(StateOpen); err != nil && !errors.Is(err, ErrClosed) {
			return err
		}
		return nil
	}

	if err := ch.setState(StateOpen); err != nil {
		if errors.Is(err, ErrClosed) {
			m.unregister(ch)
			req.resolve(OutcomeRefused, ErrClosed)
			return nil
		}
		req.resolve(OutcomeRefused, err)
		ch.Close()
		return err
	}
	req.resolve(OutcomeAccepted, nil)
	return nil
}

func (m *Multiplexer) handleOpenFailure(msg frame.OpenFailureMessage) error {
	m.mu.Lock()
	req, ok := m.requests[msg.ChannelID]
	delete(m.requests, msg.ChannelID)
	m.mu.Unlock()

	if !ok {
		// most likely timed out and abandoned already
		m.logger.Debug("ignoring refusal for unknown request", "channel", msg.ChannelID, "reason", msg.Reason)
		return nil
	}
	req.ch.setState(StateClosed)
	req.resolve(OutcomeRefused, &DeclinedError{
		Type:   req.typ,
		Reason: msg.Reason,
		Cause:  msg.Cause,
	})
	return nil
}

func (m *Multiplexer) handleClose(msg frame.CloseMessage) error {
	m.mu.Lock()
	ch, ok := m.channels[msg.ChannelID]
	h := m.accepted[msg.ChannelID]
	if ok {
		delete(m.channels, msg.ChannelID)
		delete(m.accepted, msg.ChannelID)
		m.buryLocked(msg.ChannelID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("ignoring close for unknown channel", "channel", msg.ChannelID)
		return nil
	}
	ch.setState(StateClosed)
	if h != nil {
		m.notifyClosed(h, ch)
	}
	return nil
}

// channelClosed is called by a channel after it was closed locally.
func (m *Multiplexer) channelClosed(ch *Channel) {
	h := m.unregister(ch)

	m.mu.Lock()
	req, pending := m.requests[ch.id]
	if pending && req.ch == ch {
		delete(m.requests, ch.id)
	}
	m.mu.Unlock()

	if pending && req.ch == ch {
		req.resolve(OutcomeRefused, ErrClosed)
	}
	if h != nil {
		m.notifyClosed(h, ch)
	}
}

// unregister removes ch and returns the handler that accepted it, if any.
func (m *Multiplexer) unregister(ch *Channel) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[ch.id] != ch {
		return nil
	}
	h := m.accepted[ch.id]
	delete(m.channels, ch.id)
	delete(m.accepted, ch.id)
	m.buryLocked(ch.id)
	return h
}

// buryLocked remembers id as recently closed, forgetting the oldest id
// once maxTombstones are held.
func (m *Multiplexer) buryLocked(id uint64) {
	if _, ok := m.tombstones[id]; ok {
		return
	}
	if len(m.buried) >= maxTombstones {
		delete(m.tombstones, m.buried[0])
		m.buried = m.buried[1:]
	}
	m.tombstones[id] = struct{}{}
	m.buried = append(m.buried, id)
}

func (m *Multiplexer) notifyClosed(h Handler, ch *Channel) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("close handler panicked", "channel", ch.id, "type", ch.typ, "panic", p)
		}
	}()
	h.Closed(ch)
}

// Close closes every channel and fails every pending request. Afterwards
// Receive and EstablishChannel return ErrClosed. Failures to close single
// channels do not stop the others from closing and are returned together.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	requests := m.requests
	m.requests = make(map[uint64]*request)
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	var result *multierror.Error
	for _, req := range requests {
		req.resolve(OutcomeRefused, ErrClosed)
		if err := req.ch.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing channel %d: %w", req.ch.id, err))
		}
	}
	for _, ch := range chans {
		if err := ch.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing channel %d: %w", ch.id, err))
		}
	}
	return result.ErrorOrNil()
}
