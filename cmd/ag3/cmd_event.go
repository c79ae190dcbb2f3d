package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ag3/pkg/protocol"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newEventCmd creates the "ag3 event" subcommand.
func newEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "event <file|->",
		Short: "Submit a verified event",
		Long:  "Reads one event (id, type, payload) from a YAML, JSON or TOML file, or\nYAML/JSON from stdin when the argument is -, and hands it to the ingestor.\nA repeated event id is reported as deduplicated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := readEvent(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var res protocol.IngestResult
			if err := request(cmd, protocol.Message{Type: protocol.MsgEvent, Event: &ev}, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

// readEvent decodes an event from path, or from stdin when path is "-".
// YAML is a superset of JSON, so anything but .toml decodes as YAML.
func readEvent(stdin io.Reader, path string) (protocol.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // operator-supplied path
	}
	if err != nil {
		return protocol.Event{}, fmt.Errorf("read event: %w", err)
	}

	var ev protocol.Event
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &ev)
	} else {
		err = yaml.Unmarshal(data, &ev)
	}
	if err != nil {
		return protocol.Event{}, fmt.Errorf("parse event %s: %w", path, err)
	}
	return ev, nil
}
