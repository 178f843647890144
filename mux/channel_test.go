package mux

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/progrium/chanmux/mux/frame"
)

type recorder struct {
	mu     sync.Mutex
	sent   []frame.Message
	closed []*Channel
	err    error
}

func (r *recorder) send(msg frame.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) channelClosed(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, ch)
}

func (r *recorder) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, msg := range r.sent {
		if data, ok := msg.(frame.DataMessage); ok {
			out = append(out, data.Payload)
		}
	}
	return out
}

func testChannel() (*Channel, *recorder) {
	r := &recorder{}
	return newChannel(7, "test", r, hclog.NewNullLogger()), r
}

func TestChannelQueueThenFlush(t *testing.T) {
	ch, r := testChannel()

	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Send(i))
	}
	require.Empty(t, r.payloads(), "nothing is sent while opening")

	require.NoError(t, ch.setState(StateOpen))
	require.Equal(t, []any{0, 1, 2, 3, 4}, r.payloads())

	require.NoError(t, ch.Send(5))
	require.Equal(t, []any{0, 1, 2, 3, 4, 5}, r.payloads())

	// opening again flushes nothing twice
	require.NoError(t, ch.setState(StateOpen))
	require.Len(t, r.payloads(), 6)
}

func TestChannelMonotonicState(t *testing.T) {
	ch, _ := testChannel()
	require.Equal(t, StateOpening, ch.State())

	require.NoError(t, ch.setState(StateOpen))
	require.Error(t, ch.setState(StateOpening))
	require.Equal(t, StateOpen, ch.State())

	require.NoError(t, ch.setState(StateClosed))
	require.ErrorIs(t, ch.setState(StateOpen), ErrClosed)
	require.ErrorIs(t, ch.setState(StateOpening), ErrClosed)
	require.NoError(t, ch.setState(StateClosed))
	require.Equal(t, StateClosed, ch.State())
}

func TestChannelAbandonedQueue(t *testing.T) {
	ch, r := testChannel()
	require.NoError(t, ch.Send("a"))
	require.NoError(t, ch.Send("b"))

	require.NoError(t, ch.Close())
	require.Empty(t, r.payloads())
	require.ErrorIs(t, ch.Send("c"), ErrClosed)
	require.ErrorIs(t, ch.setState(StateOpen), ErrClosed)
	require.Empty(t, r.payloads())
}

func TestChannelCloseIdempotent(t *testing.T) {
	ch, r := testChannel()
	require.NoError(t, ch.setState(StateOpen))

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.Equal(t, StateClosed, ch.State())

	require.Len(t, r.sent, 1)
	require.Equal(t, frame.CloseMessage{ChannelID: 7}, r.sent[0])
	require.Len(t, r.closed, 1)
}

func TestChannelCloseSendFailure(t *testing.T) {
	ch, r := testChannel()
	require.NoError(t, ch.setState(StateOpen))
	r.err = errors.New("broken pipe")

	err := ch.Close()
	require.ErrorContains(t, err, "broken pipe")
	require.Equal(t, StateClosed, ch.State())
	require.Len(t, r.closed, 1)
}

func TestChannelSendFailure(t *testing.T) {
	ch, r := testChannel()
	require.NoError(t, ch.setState(StateOpen))
	r.err = errors.New("broken pipe")
	require.ErrorContains(t, ch.Send("x"), "broken pipe")
}

func TestChannelListeners(t *testing.T) {
	ch, _ := testChannel()

	var calls []string
	ch.AddListener(ListenerFunc(func(ch *Channel, payload any) {
		calls = append(calls, "first")
	}))
	ch.AddListener(ListenerFunc(func(ch *Channel, payload any) {
		panic("boom")
	}))
	var self ListenerHandle
	self = ch.AddListener(ListenerFunc(func(ch *Channel, payload any) {
		calls = append(calls, "once")
		ch.RemoveListener(self)
	}))
	ch.AddListener(ListenerFunc(func(ch *Channel, payload any) {
		calls = append(calls, "last")
	}))

	require.NoError(t, ch.receive("x"))
	require.Equal(t, []string{"first", "once", "last"}, calls)

	calls = nil
	require.NoError(t, ch.receive("y"))
	require.Equal(t, []string{"first", "last"}, calls)

	require.False(t, ch.RemoveListener(self))

	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.receive("z"), ErrClosed)
}

func TestChannelListenerMaySend(t *testing.T) {
	ch, r := testChannel()
	require.NoError(t, ch.setState(StateOpen))
	ch.AddListener(ListenerFunc(func(ch *Channel, payload any) {
		require.NoError(t, ch.Send(payload))
	}))
	require.NoError(t, ch.receive("echo"))
	require.Equal(t, []any{"echo"}, r.payloads())
}

func TestChannelWaitToOpen(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		ch, _ := testChannel()
		_, err := ch.WaitToOpen(context.Background(), 20*time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("opened", func(t *testing.T) {
		ch, _ := testChannel()
		go func() {
			time.Sleep(10 * time.Millisecond)
			ch.setState(StateOpen)
		}()
		state, err := ch.WaitToOpen(context.Background(), 0)
		require.NoError(t, err)
		require.Equal(t, StateOpen, state)
	})

	t.Run("closed", func(t *testing.T) {
		ch, _ := testChannel()
		go ch.Close()
		state, err := ch.WaitToOpen(context.Background(), time.Second)
		require.NoError(t, err)
		require.Equal(t, StateClosed, state)
	})

	t.Run("interrupted", func(t *testing.T) {
		ch, _ := testChannel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ch.WaitToOpen(ctx, 0)
		require.ErrorIs(t, err, ErrInterrupted)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestStateString(t *testing.T) {
	require.Equal(t, "OPENING", StateOpening.String())
	require.Equal(t, "CLOSED", StateClosed.String())
	require.Equal(t, "State(9)", State(9).String())
}
