package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replayScenario = `
applications:
  - ref: ":1.42:/org/a11y/atspi/accessible/root"
    name: gnome-terminal-server
    toolkit: GTK
    nodes:
      - ref: ":1.42:/window"
        name: Terminal
        role: frame
      - ref: ":1.42:/term"
        parent: ":1.42:/window"
        name: shell
        role: terminal
events:
  - type: window:activate
    source: ":1.42:/window"
  - type: "focus:"
    source: ":1.42:/term"
  - type: object:text-changed:insert
    source: ":1.42:/term"
    anyData: "ls -l"
`

func TestReplayCommand(t *testing.T) {
	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"),
		[]byte("registry:\n  reconcileInterval: 0s\nprofiles:\n  watch: false\n"), 0644))
	scenarioPath := filepath.Join(t.TempDir(), "terminal.yaml")
	require.NoError(t, os.WriteFile(scenarioPath, []byte(replayScenario), 0644))

	var out, errOut bytes.Buffer
	c := newReplayCmd()
	c.SetOut(&out)
	c.SetErr(&errOut)
	c.SetArgs([]string{"--scenario", scenarioPath, "--config-path", configDir, "--mode", "sync"})

	require.NoError(t, c.Execute())
	assert.Contains(t, out.String(), "terminal")
	assert.Contains(t, out.String(), "object:text-changed:insert")
}

func TestCheckCommand(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		dir := t.TempDir()
		var out bytes.Buffer
		c := newCheckCmd()
		c.SetOut(&out)
		c.SetArgs([]string{"--config-path", dir})

		require.NoError(t, c.Execute())
		assert.Contains(t, out.String(), "is valid")
	})

	t.Run("yaml output", func(t *testing.T) {
		dir := t.TempDir()
		var out bytes.Buffer
		c := newCheckCmd()
		c.SetOut(&out)
		c.SetArgs([]string{"--config-path", dir, "-o", "yaml"})

		require.NoError(t, c.Execute())
		assert.Contains(t, out.String(), "mode: async")
	})

	t.Run("invalid", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("scheduler:\n  mode: parallel\n"), 0644))

		var out bytes.Buffer
		c := newCheckCmd()
		c.SetOut(&out)
		c.SetErr(&bytes.Buffer{})
		c.SetArgs([]string{"--config-path", dir})

		require.Error(t, c.Execute())
		assert.Contains(t, out.String(), "scheduler.mode")
		assert.Contains(t, out.String(), "Detailed Configuration Error Report")
	})
}
