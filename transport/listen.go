package transport

import (
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/progrium/chanmux/codec"
	"github.com/progrium/chanmux/mux"
)

// Listener is similar to a net.Listener but returns connections with a
// multiplexer already running on them.
type Listener interface {
	// Close closes the listener.
	// Any blocked Accept operations will be unblocked and return errors.
	Close() error

	// Accept waits for and returns the next connection.
	Accept() (*Conn, error)

	// Addr returns the listener's network address.
	Addr() net.Addr
}

// NetListener wraps a net.Listener. Every accepted connection gets its own
// multiplexer built from the listener's codec and options.
type NetListener struct {
	net.Listener
	codec codec.Codec
	opts  []mux.Option

	accepted chan *Conn
	errs     chan error
	closer   chan struct{}
	once     sync.Once
}

func newNetListener(l net.Listener, c codec.Codec, opts []mux.Option) *NetListener {
	return &NetListener{
		Listener: l,
		codec:    c,
		opts:     opts,
		accepted: make(chan *Conn),
		errs:     make(chan error, 1),
		closer:   make(chan struct{}),
	}
}

// Accept waits for and returns the next connection to the listener.
func (l *NetListener) Accept() (*Conn, error) {
	select {
	case <-l.closer:
		return nil, io.EOF
	case err := <-l.errs:
		return nil, err
	case conn := <-l.accepted:
		return conn, nil
	}
}

// Close closes the listener.
// Any blocked Accept operations will be unblocked and return errors.
// Connections already accepted stay open.
func (l *NetListener) Close() error {
	l.once.Do(func() { close(l.closer) })
	return l.Listener.Close()
}

// deliver hands conn to Accept, or closes it if the listener is closed.
func (l *NetListener) deliver(conn *Conn) bool {
	select {
	case l.accepted <- conn:
		return true
	case <-l.closer:
		conn.Close()
		return false
	}
}

func (l *NetListener) serve() {
	for {
		nc, err := l.Listener.Accept()
		if err != nil {
			select {
			case l.errs <- err:
			default:
			}
			return
		}
		if !l.deliver(New(nc, l.codec, l.opts...)) {
			return
		}
	}
}

func listenNet(proto, addr string, c codec.Codec, opts []mux.Option) (*NetListener, error) {
	l, err := net.Listen(proto, addr)
	if err != nil {
		return nil, err
	}
	nl := newNetListener(l, c, opts)
	go nl.serve()
	return nl, nil
}

// ListenTCP creates a TCP listener at the given address.
func ListenTCP(addr string, c codec.Codec, opts ...mux.Option) (*NetListener, error) {
	return listenNet("tcp", addr, c, opts)
}

// ListenUnix creates a Unix domain socket listener at the given path.
func ListenUnix(path string, c codec.Codec, opts ...mux.Option) (*NetListener, error) {
	return listenNet("unix", path, c, opts)
}

// ListenWS takes a TCP address and returns a Listener for an HTTP+WebSocket
// server listening on the given address.
func ListenWS(addr string, c codec.Codec, opts ...mux.Option) (*NetListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	nl := newNetListener(l, c, opts)
	srv := &http.Server{
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			ws.PayloadType = websocket.BinaryFrame
			conn := New(ws, c, opts...)
			if !nl.deliver(conn) {
				return
			}
			// the handler owns the websocket until the connection ends
			conn.Wait()
		}),
	}
	go func() {
		err := srv.Serve(l)
		select {
		case nl.errs <- err:
		default:
		}
	}()
	return nl, nil
}
