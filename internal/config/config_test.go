package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 100, cfg.Resolve.Workers)
	assert.Equal(t, 100, cfg.Resolve.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.Resolve.RetryDelay)
	assert.Equal(t, 15*time.Second, cfg.Resolve.AttemptTimeout)
	assert.Equal(t, "offline", cfg.Resolve.Mode)
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
out_path: people.jsonl
quantity: 500
batch_size: 50
cpf: true
phone: true
resolve:
  mode: external
  command: ["node", "cep_service.js"]
  workers: 20
  max_retries: 5
  retry_delay: 20ms
  attempt_timeout: 10s
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "people.jsonl", cfg.OutPath)
	assert.Equal(t, 500, cfg.Quantity)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.True(t, cfg.CPF)
	assert.True(t, cfg.Phone)
	assert.Equal(t, "external", cfg.Resolve.Mode)
	assert.Equal(t, []string{"node", "cep_service.js"}, cfg.Resolve.Command)
	assert.Equal(t, 20, cfg.Resolve.Workers)
	// Untouched keys keep their defaults.
	assert.Equal(t, "ate2010", cfg.TimePeriod)
}

func TestLoadFile_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "quantitee: 5\n")

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantitee")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ExternalNeedsCommand(t *testing.T) {
	cfg := Default()
	cfg.Resolve.Mode = "external"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve.command")
}

func TestValidate_BadTimePeriod(t *testing.T) {
	cfg := Default()
	cfg.TimePeriod = "ate2525"
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadQuantity(t *testing.T) {
	cfg := Default()
	cfg.Quantity = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadMode(t *testing.T) {
	cfg := Default()
	cfg.Resolve.Mode = "sideways"
	assert.Error(t, cfg.Validate())
}
