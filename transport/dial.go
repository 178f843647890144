package transport

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/net/websocket"

	"github.com/progrium/chanmux/codec"
	"github.com/progrium/chanmux/mux"
)

// A Dialer connects to addr and runs a multiplexer over the connection.
type Dialer func(addr string, c codec.Codec, opts ...mux.Option) (*Conn, error)

// Dialers maps transport names to Dialers and includes all builtin
// transports.
var Dialers map[string]Dialer

func init() {
	Dialers = map[string]Dialer{
		"tcp":  DialTCP,
		"unix": DialUnix,
		"ws":   DialWS,
		"stdio": func(_ string, c codec.Codec, opts ...mux.Option) (*Conn, error) {
			return DialStdio(c, opts...)
		},
	}
}

// Dial connects to addr using a registered transport. Available transports
// are "tcp", "unix", "ws" and "stdio". For "stdio" addr is ignored.
func Dial(transport, addr string, c codec.Codec, opts ...mux.Option) (*Conn, error) {
	d, ok := Dialers[transport]
	if !ok {
		return nil, fmt.Errorf("transport: %q not available in Dialers", transport)
	}
	return d(addr, c, opts...)
}

type ioduplex struct {
	io.WriteCloser
	io.ReadCloser
}

func (d *ioduplex) Close() error {
	werr := d.WriteCloser.Close()
	rerr := d.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// DialIO runs a multiplexer writing to out and reading from in.
func DialIO(out io.WriteCloser, in io.ReadCloser, c codec.Codec, opts ...mux.Option) (*Conn, error) {
	return New(&ioduplex{out, in}, c, opts...), nil
}

// DialStdio runs a multiplexer over Stdout and Stdin.
func DialStdio(c codec.Codec, opts ...mux.Option) (*Conn, error) {
	return DialIO(os.Stdout, os.Stdin, c, opts...)
}

func dialNet(proto, addr string, c codec.Codec, opts ...mux.Option) (*Conn, error) {
	conn, err := net.Dial(proto, addr)
	if err != nil {
		return nil, err
	}
	return New(conn, c, opts...), nil
}

// DialTCP runs a multiplexer over a TCP connection to addr.
func DialTCP(addr string, c codec.Codec, opts ...mux.Option) (*Conn, error) {
	return dialNet("tcp", addr, c, opts...)
}

// DialUnix runs a multiplexer over a Unix domain socket at path.
func DialUnix(path string, c codec.Codec, opts ...mux.Option) (*Conn, error) {
	return dialNet("unix", path, c, opts...)
}

// DialWS runs a multiplexer over a WebSocket connection.
// The address must be a host and port. Opening a WebSocket
// connection at a particular path is not supported.
func DialWS(addr string, c codec.Codec, opts ...mux.Option) (*Conn, error) {
	ws, err := websocket.Dial(fmt.Sprintf("ws://%s/", addr), "", fmt.Sprintf("http://%s/", addr))
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return New(ws, c, opts...), nil
}
