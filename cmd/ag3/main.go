// Command ag3 runs the mission orchestrator daemon and talks to it over its
// Unix socket.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "ag3:", err)
		os.Exit(1)
	}
}
