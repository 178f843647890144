package mux

import (
	"bytes"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(map[string]any{
		"establish_timeout": "5s",
		"ids":               "odd",
	})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.EstablishTimeout)
	require.Equal(t, "odd", cfg.IDs)

	cfg, err = DecodeConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	_, err = DecodeConfig(map[string]any{"ids": "uuid"})
	require.ErrorContains(t, err, "unknown id generator")

	_, err = DecodeConfig(map[string]any{"timeout": "5s"})
	require.ErrorContains(t, err, "timeout")
}

func TestConfigOptions(t *testing.T) {
	m := New(newPipe(), WithConfig(Config{IDs: "even"}))
	require.Equal(t, uint64(2), m.ids.NextID())
	require.Equal(t, time.Duration(0), m.timeout)

	// an explicit generator wins over the configured one
	m = New(newPipe(), WithIDGenerator(NewSequence(7, 1)), WithConfig(Config{IDs: "odd"}))
	require.Equal(t, uint64(7), m.ids.NextID())
}

func TestConfigInvalidIDsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Warn})

	m := New(newPipe(), WithLogger(logger), WithConfig(Config{IDs: "bogus"}))
	require.NotNil(t, m.ids)
	require.Contains(t, buf.String(), "unknown id generator")
	require.Contains(t, buf.String(), "bogus")

	buf.Reset()
	New(newPipe(), WithLogger(logger), WithConfig(Config{IDs: "bogus"}), WithConfig(Config{IDs: "odd"}))
	require.Empty(t, buf.String())
}
