package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("chanmux", version)
	c.Args = args
	c.Commands = commands(ui)

	status, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %v\n", err)
		return 1
	}
	return status
}

func commands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return newServeCommand(ui), nil
		},
		"open": func() (cli.Command, error) {
			return newOpenCommand(ui), nil
		},
	}
}
