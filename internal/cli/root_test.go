package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	cases := []struct {
		name    string
		opts    RootOptions
		wantErr string
	}{
		{"text info", RootOptions{LogLevel: "info", LogFormat: "text"}, ""},
		{"json debug", RootOptions{LogLevel: "debug", LogFormat: "json"}, ""},
		{"level is case insensitive", RootOptions{LogLevel: "WARN", LogFormat: "text"}, ""},
		{"bad level", RootOptions{LogLevel: "verbose", LogFormat: "text"}, "invalid log-level"},
		{"bad format", RootOptions{LogLevel: "info", LogFormat: "xml"}, "invalid log-format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := configureLogging(&tc.opts)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestRootCommand_Wiring(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["check"])
	assert.True(t, names["ls"])

	for _, flag := range []string{"manifest", "env", "log-level", "log-format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}

	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	for _, flag := range []string{"db", "run-id", "workers", "auto-approve", "rerun", "approval-timeout"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	mem, err := openStore("")
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	db, err := openStore(t.TempDir() + "/state.db")
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
