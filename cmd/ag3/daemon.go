package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// daemonState is the liveness of the serving process as seen from its PID
// file.
type daemonState string

const (
	daemonRunning daemonState = "running" // PID file present, process alive
	daemonStopped daemonState = "stopped" // no PID file
	daemonStale   daemonState = "stale"   // PID file present, process gone
)

// pidFile is the path of the daemon PID file.
type pidFile string

func (p pidFile) write(pid int) error {
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write PID file %s: %w", p, err)
	}
	return nil
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p)) //nolint:gosec // PID file path is controlled by the application
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", p, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", p, err)
	}
	return pid, nil
}

// remove is idempotent.
func (p pidFile) remove() error {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file %s: %w", p, err)
	}
	return nil
}

// state reads the PID file and probes the process with signal 0.
func (p pidFile) state() (daemonState, int, error) {
	pid, err := p.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return daemonStopped, 0, nil
		}
		return daemonStopped, 0, fmt.Errorf("daemon status: %w", err)
	}
	if processAlive(pid) {
		return daemonRunning, pid, nil
	}
	return daemonStale, pid, nil
}

// terminate sends SIGTERM to the recorded process.
func (p pidFile) terminate() error {
	pid, err := p.read()
	if err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to PID %d: %w", pid, err)
	}
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// withShutdownSignals returns a context cancelled on SIGTERM or SIGINT, and
// a cleanup that cancels it and removes the PID file. Callers defer cleanup.
func withShutdownSignals(parent context.Context, p pidFile) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, func() {
		cancel()
		_ = p.remove()
	}
}
