package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/threatlink/internal/app"
	"github.com/tphakala/threatlink/internal/buildinfo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx := app.NewContext(buildinfo.NewContext("9.9.9", "2026-01-01"))
	root := RootCommand(ctx)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	ctx.Shutdown()
	return out.String(), err
}

func TestVersionSkipsConfiguration(t *testing.T) {
	out, err := execute(t, "version", "--config", "/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "threatlink 9.9.9")
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "datastore:\n  sqlite:\n    path: " + filepath.Join(dir, "t.db") + "\nsemantic:\n  api_key: sk-secret\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[redacted]")
	assert.NotContains(t, out, "sk-secret")

	out, err = execute(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	out, err = execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	dumped := filepath.Join(dir, "dump.yaml")
	_, err = execute(t, "--config", path, "config", "dump", dumped)
	require.NoError(t, err)
	data, err := os.ReadFile(dumped)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lookback_days: 90")

	out, err = execute(t, "--config", path, "config", "activate")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": 1`)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "config", "show")
	require.Error(t, err)
}

func TestCampaignsCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "datastore:\n  sqlite:\n    path: " + filepath.Join(dir, "t.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := execute(t, "--config", path, "campaigns", "list", "--status", "active")
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "campaigns", "refresh")
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "campaigns", "show", "abc")
	require.Error(t, err)

	_, err = execute(t, "--config", path, "campaigns", "show", "999")
	require.Error(t, err, "unknown campaign")
}
