// Package transport runs a multiplexer over a byte stream such as a TCP
// connection, a Unix socket, a WebSocket or a pair of pipes.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/progrium/chanmux/codec"
	"github.com/progrium/chanmux/mux"
	"github.com/progrium/chanmux/mux/frame"
)

// Conn carries the messages of one Multiplexer over a connection. Every
// message is a length-prefixed frame holding an encoded frame.Envelope.
type Conn struct {
	rwc    io.ReadWriteCloser
	mux    *mux.Multiplexer
	logger hclog.Logger

	encMu sync.Mutex
	enc   codec.Encoder
	dec   codec.Decoder

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	done chan struct{}
	err  error
}

// New starts a multiplexer on rwc using c for encoding. Handlers that must
// see the first inbound channels should be passed with mux.WithHandler.
func New(rwc io.ReadWriteCloser, c codec.Codec, opts ...mux.Option) *Conn {
	fc := &codec.FrameCodec{Codec: c}
	conn := &Conn{
		rwc:  rwc,
		enc:  fc.Encoder(rwc),
		dec:  fc.Decoder(rwc),
		done: make(chan struct{}),
	}
	conn.mux = mux.New(conn, opts...)
	conn.logger = conn.mux.Logger().Named("transport")
	go conn.loop()
	return conn
}

// Mux returns the multiplexer running on the connection.
func (c *Conn) Mux() *mux.Multiplexer {
	return c.mux
}

// Send encodes msg onto the connection. It is safe for concurrent use.
func (c *Conn) Send(msg frame.Message) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.Encode(frame.Wrap(msg))
}

func (c *Conn) loop() {
	var err error
	for {
		var env frame.Envelope
		if err = c.dec.Decode(&env); err != nil {
			break
		}
		msg, merr := env.Message()
		if merr != nil {
			c.logger.Warn("dropping malformed message", "error", merr)
			continue
		}
		if rerr := c.mux.Receive(msg); rerr != nil {
			if errors.Is(rerr, mux.ErrClosed) {
				continue
			}
			c.logger.Warn("dropping message", "message", msg.String(), "error", rerr)
		}
	}
	c.finish(err)
}

func (c *Conn) finish(err error) {
	if c.closing.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		err = io.EOF
	}
	if !errors.Is(err, io.EOF) {
		c.logger.Error("connection failed", "error", err)
	} else {
		c.logger.Debug("connection closed")
	}
	if cerr := c.Close(); cerr != nil {
		c.logger.Debug("errors while closing", "error", cerr)
	}
	c.err = err
	close(c.done)
}

// Close closes every channel, then the connection itself.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		var result *multierror.Error
		if err := c.mux.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := c.rwc.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.closeErr = result.ErrorOrNil()
	})
	return c.closeErr
}

// Wait blocks until the connection is done and returns why. A connection
// closed by either side in an orderly way reports io.EOF.
func (c *Conn) Wait() error {
	<-c.done
	return c.err
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
