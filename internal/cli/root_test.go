package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["generate"])
	assert.True(t, names["resolve"])
	assert.True(t, names["checkdata"])
}

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "checkdata"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
}

func TestBuildConfig_FlagOverrides(t *testing.T) {
	root := &RootOptions{Format: "text"}
	cmd := NewGenerateCommand(root)
	require.NoError(t, cmd.ParseFlags([]string{
		"-q", "42", "--cpf", "--batch-size", "10", "--api",
		"--resolver-cmd", "node,svc.js",
	}))

	opts := &GenerateOptions{RootOptions: root}
	// Re-bind parsed values: the command closure owns its own opts, so
	// rebuild from the parsed flag set instead.
	opts.Quantity, _ = cmd.Flags().GetInt("quantity")
	opts.CPF, _ = cmd.Flags().GetBool("cpf")
	opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	opts.API, _ = cmd.Flags().GetBool("api")
	opts.ResolverCmd, _ = cmd.Flags().GetStringSlice("resolver-cmd")

	cfg, err := buildConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Quantity)
	assert.True(t, cfg.CPF)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, "external", cfg.Resolve.Mode)
	assert.Equal(t, []string{"node", "svc.js"}, cfg.Resolve.Command)
	// Untouched knobs keep their defaults.
	assert.Equal(t, 100, cfg.Resolve.MaxRetries)
}

func TestBuildConfig_ExternalWithoutCommand(t *testing.T) {
	root := &RootOptions{Format: "text"}
	cmd := NewGenerateCommand(root)
	require.NoError(t, cmd.ParseFlags([]string{"--api"}))

	opts := &GenerateOptions{RootOptions: root}
	opts.API, _ = cmd.Flags().GetBool("api")

	_, err := buildConfig(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve.command")
}
