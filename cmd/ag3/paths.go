package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ag3/pkg/protocol"
)

// Paths holds all resolved ag3 state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home        string // ~/.ag3 or AG3_HOME
	PIDPath     string // ag3.pid or AG3_PID_PATH
	SocketPath  string // ag3.sock or AG3_SOCKET_PATH
	StateDBPath string // state.db or AG3_DB_PATH
	ConfigPath  string // config.yaml or AG3_CONFIG
	InboxDir    string // inbox or AG3_INBOX_DIR
	MailDir     string // maildir or AG3_MAILDIR
}

// ResolvePaths returns all ag3 paths, respecting env var overrides.
// Environment variables:
//   - AG3_HOME: base directory for all ag3 state (default: ~/.ag3)
//   - AG3_PID_PATH: daemon PID file (default: $AG3_HOME/ag3.pid)
//   - AG3_SOCKET_PATH: request socket (default: $AG3_HOME/ag3.sock)
//   - AG3_DB_PATH: state database (default: $AG3_HOME/state.db)
//   - AG3_CONFIG: config file, .yaml or .toml (default: $AG3_HOME/config.yaml)
//   - AG3_INBOX_DIR: watched drop directory (default: $AG3_HOME/inbox)
//   - AG3_MAILDIR: reply-check mail directory (default: $AG3_HOME/maildir)
//
// Specific env vars override both the default and the AG3_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:        home,
		PIDPath:     resolvePathWithEnv("AG3_PID_PATH", home, "ag3.pid"),
		SocketPath:  resolvePathWithEnv("AG3_SOCKET_PATH", home, "ag3.sock"),
		StateDBPath: resolvePathWithEnv("AG3_DB_PATH", home, "state.db"),
		ConfigPath:  resolvePathWithEnv("AG3_CONFIG", home, "config.yaml"),
		InboxDir:    resolvePathWithEnv("AG3_INBOX_DIR", home, protocol.InboxDir),
		MailDir:     resolvePathWithEnv("AG3_MAILDIR", home, "maildir"),
	}, nil
}

func resolveHome() (string, error) {
	if v := os.Getenv("AG3_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
