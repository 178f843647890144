package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/progrium/chanmux/codec"
	"github.com/progrium/chanmux/mux"
)

const envPrefix = "CHANMUX_"

// options are the settings shared by all commands. Each can be given as a
// flag or as a CHANMUX_ environment variable; flags win.
type options struct {
	Transport string        `mapstructure:"transport"`
	Addr      string        `mapstructure:"addr"`
	Codec     string        `mapstructure:"codec"`
	LogLevel  string        `mapstructure:"log_level"`
	Timeout   time.Duration `mapstructure:"timeout"`
	IDs       string        `mapstructure:"ids"`
	Upstream  string        `mapstructure:"upstream"`
}

func defaultOptions() map[string]any {
	return map[string]any{
		"transport": "tcp",
		"addr":      "127.0.0.1:7070",
		"codec":     "json",
		"log_level": "info",
		"timeout":   "10s",
		"ids":       "xid",
		"upstream":  "",
	}
}

// addFlags registers a flag for every option on fs.
func addFlags(fs *flag.FlagSet) {
	for key, def := range defaultOptions() {
		fs.String(flagName(key), "", fmt.Sprintf("Defaults to %q. Also settable with %s.", def, envName(key)))
	}
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func envName(key string) string {
	return envPrefix + strings.ToUpper(key)
}

// loadOptions layers defaults, environment and flags that were set on fs.
func loadOptions(fs *flag.FlagSet, getenv func(string) string) (options, error) {
	raw := defaultOptions()
	for key := range raw {
		if v := getenv(envName(key)); v != "" {
			raw[key] = v
		}
	}
	fs.Visit(func(f *flag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := raw[key]; ok {
			raw[key] = f.Value.String()
		}
	})

	var opts options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, err
	}
	if hclog.LevelFromString(opts.LogLevel) == hclog.NoLevel {
		return opts, fmt.Errorf("unknown log level %q", opts.LogLevel)
	}
	return opts, nil
}

func (o options) logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "chanmux",
		Level:  hclog.LevelFromString(o.LogLevel),
		Output: os.Stderr,
	})
}

func (o options) codec() (codec.Codec, error) {
	return codec.ByName(o.Codec)
}

// muxOptions turns the options into multiplexer settings.
func (o options) muxOptions(logger hclog.Logger) ([]mux.Option, error) {
	cfg, err := mux.DecodeConfig(map[string]any{
		"establish_timeout": o.Timeout,
		"ids":               o.IDs,
	})
	if err != nil {
		return nil, err
	}
	return []mux.Option{mux.WithConfig(cfg), mux.WithLogger(logger)}, nil
}
