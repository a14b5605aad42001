package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PositionalProfilePath(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"profiles/run.hcl"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "profiles/run.hcl", cfg.ProfilePath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParse_ProfileFlagWins(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"-profile", "a.hcl", "positional.hcl"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "a.hcl", cfg.ProfilePath)
}

func TestParse_Shorthand(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"-p", "a.hcl"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "a.hcl", cfg.ProfilePath)
}

func TestParse_NoPathPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_InvalidLogFormat(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-log-format", "xml", "a.hcl"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParse_InvalidLogLevel(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-log-level", "loud", "a.hcl"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParse_WorkerAndQueueFlags(t *testing.T) {
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"-workers", "8", "-queue-size", "64", "a.hcl"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.False(t, cfg.Strict)
}

func TestParse_StrictFlag(t *testing.T) {
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"-strict", "a.hcl"}, &out)
	require.NoError(t, err)
	assert.True(t, cfg.Strict)
}
