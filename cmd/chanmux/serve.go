package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/progrium/chanmux/codec"
	"github.com/progrium/chanmux/mux"
	"github.com/progrium/chanmux/transport"
)

type serveCommand struct {
	ui    cli.Ui
	flags *flag.FlagSet
}

func newServeCommand(ui cli.Ui) *serveCommand {
	c := &serveCommand{ui: ui}
	c.flags = flag.NewFlagSet("serve", flag.ContinueOnError)
	addFlags(c.flags)
	return c
}

func (c *serveCommand) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return 1
	}
	opts, err := loadOptions(c.flags, os.Getenv)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	logger := opts.logger()
	cdc, err := opts.codec()
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	muxOpts, err := opts.muxOptions(logger)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	handler := echoHandler(logger)
	if opts.Upstream != "" {
		up, err := transport.Dial(opts.Transport, opts.Upstream, cdc, muxOpts...)
		if err != nil {
			c.ui.Error(fmt.Sprintf("Error connecting to upstream %s: %s", opts.Upstream, err))
			return 1
		}
		defer up.Close()
		logger.Info("forwarding channels", "upstream", opts.Upstream)
		handler = mux.Proxy("", up.Mux())
	}
	muxOpts = append(muxOpts, mux.WithHandler(handler))

	l, err := listen(opts.Transport, opts.Addr, cdc, muxOpts)
	if err != nil {
		c.ui.Error(fmt.Sprintf("Error listening on %s %s: %s", opts.Transport, opts.Addr, err))
		return 1
	}
	logger.Info("listening", "transport", opts.Transport, "addr", l.Addr().String(), "codec", opts.Codec)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		logger.Info("shutting down")
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			logger.Debug("listener stopped", "error", err)
			return 0
		}
		go func() {
			logger.Debug("connection accepted")
			err := conn.Wait()
			logger.Debug("connection ended", "error", err)
		}()
	}
}

func listen(name, addr string, c codec.Codec, opts []mux.Option) (transport.Listener, error) {
	switch name {
	case "tcp":
		return transport.ListenTCP(addr, c, opts...)
	case "unix":
		return transport.ListenUnix(addr, c, opts...)
	case "ws":
		return transport.ListenWS(addr, c, opts...)
	default:
		return nil, fmt.Errorf("transport %q cannot listen", name)
	}
}

// echoHandler accepts channels of any type and sends every payload back.
func echoHandler(logger hclog.Logger) mux.Handler {
	return mux.HandlerFuncs{
		OnAccept: func(ch *mux.Channel, initial any) error {
			logger.Info("channel opened", "channel", ch.ID(), "type", ch.Type(), "initial", initial)
			ch.AddListener(mux.ListenerFunc(func(ch *mux.Channel, payload any) {
				if err := ch.Send(payload); err != nil {
					logger.Warn("echo failed", "channel", ch.ID(), "error", err)
				}
			}))
			return nil
		},
		OnClose: func(ch *mux.Channel) {
			logger.Info("channel closed", "channel", ch.ID(), "type", ch.Type())
		},
	}
}

func (c *serveCommand) Synopsis() string {
	return "Accept connections and echo payloads on every channel"
}

func (c *serveCommand) Help() string {
	return strings.TrimSpace(`
Usage: chanmux serve [options]

  Listen for connections and accept channels of every payload type. Each
  payload received on a channel is sent back on the same channel, unless
  -upstream is given: then every channel is forwarded to a channel of the
  same type opened on the upstream server.

Options:

  -transport   tcp, unix or ws
  -addr        address or socket path to listen on
  -codec       json or cbor
  -log-level   trace, debug, info, warn or error
  -timeout     establish timeout, such as 10s
  -ids         xid, odd or even
  -upstream    address of a server to forward channels to
`)
}
