package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
app:
  name: "test-harness"
  environment: "development"
log:
  level: "error"
  output: "stdout"
targets:
  - id: "payments-api"
    tier: "critical"
    failure_threshold: 3
    cooldown: "1s"
    half_open_probe_budget: 1
    call_timeout: "1s"
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	viper.Reset()
	root := rootCommand()
	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "reset-breaker")
	assert.Contains(t, names, "show-config")
}

func TestShowConfigCommandPrintsYAML(t *testing.T) {
	viper.Reset()
	path := writeTestConfig(t)

	var buf bytes.Buffer
	root := rootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{"show-config", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "name: test-harness")
	assert.Contains(t, buf.String(), "id: payments-api")
}

func TestStatusCommandPrintsSnapshot(t *testing.T) {
	viper.Reset()
	path := writeTestConfig(t)

	var buf bytes.Buffer
	root := rootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{"status", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "mode:")
	assert.Contains(t, buf.String(), "payments-api")
}

func TestResetBreakerCommandRejectsUnknownTarget(t *testing.T) {
	viper.Reset()
	path := writeTestConfig(t)

	root := rootCommand()
	root.SetArgs([]string{"reset-breaker", "does-not-exist", "--config", path})

	err := root.Execute()
	require.Error(t, err)
}

func TestResetBreakerCommandResetsKnownTarget(t *testing.T) {
	viper.Reset()
	path := writeTestConfig(t)

	var buf bytes.Buffer
	root := rootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{"reset-breaker", "payments-api", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "breaker reset: payments-api")
}
