package mux

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
)

// Config holds the tunable settings of a Multiplexer.
type Config struct {
	// EstablishTimeout applies to EstablishChannel calls made with a zero
	// timeout. Zero waits indefinitely.
	EstablishTimeout time.Duration `mapstructure:"establish_timeout"`

	// IDs selects the id generator: "xid", "odd" or "even".
	IDs string `mapstructure:"ids"`
}

func DefaultConfig() Config {
	return Config{
		EstablishTimeout: 30 * time.Second,
		IDs:              "xid",
	}
}

// DecodeConfig builds a Config from generic key/value settings, such as
// parsed flags or a decoded configuration file, on top of DefaultConfig.
// Durations may be given as strings ("5s").
func DecodeConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("mux: config: %w", err)
	}
	if _, err := cfg.idGenerator(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) idGenerator() (IDGenerator, error) {
	switch c.IDs {
	case "", "xid":
		return NewXIDGenerator(), nil
	case "odd":
		return NewSequence(1, 2), nil
	case "even":
		return NewSequence(2, 2), nil
	default:
		return nil, fmt.Errorf("mux: config: unknown id generator %q", c.IDs)
	}
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithConfig applies cfg. An id generator given with WithIDGenerator takes
// precedence over cfg.IDs regardless of option order. An unknown cfg.IDs
// keeps the previous generator and is logged as a warning; DecodeConfig
// rejects it instead.
func WithConfig(cfg Config) Option {
	return func(m *Multiplexer) {
		m.timeout = cfg.EstablishTimeout
		if m.idsFromConfig {
			ids, err := cfg.idGenerator()
			if err != nil {
				// reported by New once the logger is known
				m.invalidIDs = cfg.IDs
				return
			}
			m.ids = ids
			m.invalidIDs = ""
		}
	}
}

func WithIDGenerator(ids IDGenerator) Option {
	return func(m *Multiplexer) {
		m.ids = ids
		m.idsFromConfig = false
		m.invalidIDs = ""
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(m *Multiplexer) {
		m.logger = logger
	}
}

// WithHandler registers h before the multiplexer can receive anything.
func WithHandler(h Handler) Option {
	return func(m *Multiplexer) {
		m.handlers[h.Type()] = h
	}
}
