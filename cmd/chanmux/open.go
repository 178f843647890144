package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/cli"

	"github.com/progrium/chanmux/mux"
	"github.com/progrium/chanmux/transport"
)

type openCommand struct {
	ui    cli.Ui
	flags *flag.FlagSet
	wait  time.Duration
}

func newOpenCommand(ui cli.Ui) *openCommand {
	c := &openCommand{ui: ui}
	c.flags = flag.NewFlagSet("open", flag.ContinueOnError)
	addFlags(c.flags)
	c.flags.DurationVar(&c.wait, "wait", 2*time.Second, "How long to wait for each reply.")
	return c
}

func (c *openCommand) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return 1
	}
	args = c.flags.Args()
	if len(args) < 1 {
		c.ui.Error("A payload type is required")
		c.ui.Error(c.Help())
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

	conn, err := transport.Dial(opts.Transport, opts.Addr, cdc, muxOpts...)
	if err != nil {
		c.ui.Error(fmt.Sprintf("Error connecting: %s", err))
		return 1
	}
	defer conn.Close()

	replies := make(chan any, len(args))
	ch, err := conn.Mux().EstablishChannel(context.Background(), args[0], nil, 0,
		mux.ListenerFunc(func(ch *mux.Channel, payload any) {
			replies <- payload
		}))
	if err != nil {
		c.ui.Error(fmt.Sprintf("Error opening channel: %s", err))
		return 1
	}
	defer ch.Close()

	for _, arg := range args[1:] {
		if err := ch.Send(parsePayload(arg)); err != nil {
			c.ui.Error(fmt.Sprintf("Error sending: %s", err))
			return 1
		}
		select {
		case reply := <-replies:
			b, err := json.Marshal(reply)
			if err != nil {
				c.ui.Error(err.Error())
				return 1
			}
			c.ui.Output(string(b))
		case <-time.After(c.wait):
			c.ui.Warn("No reply within " + c.wait.String())
		}
	}
	return 0
}

// parsePayload reads arg as JSON, falling back to the plain string.
func parsePayload(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

func (c *openCommand) Synopsis() string {
	return "Open a channel and send payloads on it"
}

func (c *openCommand) Help() string {
	return strings.TrimSpace(`
Usage: chanmux open [options] TYPE [PAYLOAD...]

  Connect, open a channel of payload type TYPE and send each PAYLOAD on it,
  printing the reply to each one. Payloads are parsed as JSON when possible.

      $ chanmux open chat.text '"hello"' '{"n": 1}'

Options:

  -transport   tcp, unix, ws or stdio
  -addr        address or socket path to connect to
  -codec       json or cbor
  -log-level   trace, debug, info, warn or error
  -timeout     establish timeout, such as 10s
  -ids         xid, odd or even
  -wait        how long to wait for each reply
`)
}
