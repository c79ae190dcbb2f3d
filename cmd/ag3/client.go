package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/server"
	"ag3/pkg/store"

	"github.com/spf13/cobra"
)

// requestTimeout bounds one socket round trip.
const requestTimeout = 30 * time.Second

// request sends msg to the running daemon and decodes the result into out.
func request(cmd *cobra.Command, msg protocol.Message, out any) error {
	paths, err := ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	err = server.Call(ctx, paths.SocketPath, msg, out)
	var rerr *server.RemoteError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rerr):
		return fmt.Errorf("%s failed (%s): %s", msg.Type, rerr.Code, rerr.Detail)
	default:
		return fmt.Errorf("%w (is `ag3 serve` running?)", err)
	}
}

// openStore opens the state database for read-only commands. SQLite WAL
// mode lets this run next to a serving daemon.
func openStore(ctx context.Context) (*store.Store, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	return store.Open(ctx, paths.StateDBPath)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
