package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePaths_HomeOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AG3_HOME", home)
	for _, k := range []string{"AG3_PID_PATH", "AG3_SOCKET_PATH", "AG3_DB_PATH", "AG3_CONFIG", "AG3_INBOX_DIR", "AG3_MAILDIR"} {
		t.Setenv(k, "")
	}

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, &Paths{
		Home:        home,
		PIDPath:     filepath.Join(home, "ag3.pid"),
		SocketPath:  filepath.Join(home, "ag3.sock"),
		StateDBPath: filepath.Join(home, "state.db"),
		ConfigPath:  filepath.Join(home, "config.yaml"),
		InboxDir:    filepath.Join(home, "inbox"),
		MailDir:     filepath.Join(home, "maildir"),
	}, p)
}

func TestResolvePaths_SpecificOverridesWin(t *testing.T) {
	t.Setenv("AG3_HOME", "/srv/ag3")
	t.Setenv("AG3_SOCKET_PATH", "/tmp/ag3.sock")
	t.Setenv("AG3_CONFIG", "/etc/ag3/config.toml")

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ag3.sock", p.SocketPath)
	assert.Equal(t, "/etc/ag3/config.toml", p.ConfigPath)
	assert.Equal(t, "/srv/ag3/state.db", p.StateDBPath)
}

func TestResolvePaths_DefaultsUnderUserHome(t *testing.T) {
	t.Setenv("AG3_HOME", "")
	t.Setenv("HOME", "/home/op")

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, "/home/op/.ag3", p.Home)
}
