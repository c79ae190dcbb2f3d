// Package inbox watches a drop directory for event and mission files.
//
// Each *.yaml, *.yml, *.json or *.toml file holds one item with a kind of
// "event" or "mission". A processed file moves to processed/, a file that
// cannot be decoded or handled moves to failed/. Writers should create the
// file under a dot-prefixed name and rename it into place; dot files are
// ignored.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"ag3/pkg/protocol"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Subdirectories receiving handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Item kinds.
const (
	KindEvent   = "event"
	KindMission = "mission"
)

// maxFileBytes caps the size of one drop file.
const maxFileBytes = 1 << 20

// debounce coalesces bursts of filesystem events into one scan.
const debounce = 100 * time.Millisecond

// Handler receives decoded items.
type Handler interface {
	HandleEvent(ctx context.Context, ev protocol.Event) (protocol.IngestResult, error)
	Enqueue(ctx context.Context, spec protocol.MissionSpec) (protocol.EnqueueResult, error)
}

// Item is the decoded content of one drop file. Event items use ID, Type
// and Payload; mission items use Type, Capability and Payload.
type Item struct {
	Kind       string         `json:"kind" yaml:"kind" toml:"kind"`
	ID         string         `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	Type       string         `json:"type" yaml:"type" toml:"type"`
	Capability string         `json:"capability,omitempty" yaml:"capability,omitempty" toml:"capability,omitempty"`
	Payload    map[string]any `json:"payload,omitempty" yaml:"payload,omitempty" toml:"payload,omitempty"`
}

// Decode parses data according to the extension of name.
func Decode(name string, data []byte) (Item, error) {
	var it Item
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&it)
	case ".toml":
		err = toml.Unmarshal(data, &it)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &it)
	default:
		return it, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	}
	if err != nil {
		return it, fmt.Errorf("decode %s: %w", name, err)
	}
	return it, it.validate()
}

func (it Item) validate() error {
	switch it.Kind {
	case KindEvent:
		if it.ID == "" || it.Type == "" {
			return errors.New("event requires id and type")
		}
	case KindMission:
		if it.Type == "" || it.Capability == "" {
			return errors.New("mission requires type and capability")
		}
	default:
		return fmt.Errorf("unknown kind %q", it.Kind)
	}
	return nil
}

func accepted(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

// Watcher feeds drop files to a Handler.
type Watcher struct {
	dir          string
	handler      Handler
	logger       *zap.Logger
	fallbackPoll time.Duration
}

// New creates a Watcher over dir. A zero fallbackPoll means 30s.
func New(dir string, h Handler, fallbackPoll time.Duration, logger *zap.Logger) *Watcher {
	if fallbackPoll == 0 {
		fallbackPoll = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, handler: h, logger: logger.Named("inbox"), fallbackPoll: fallbackPoll}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run scans once, then rescans on filesystem events and on the fallback
// ticker until ctx is cancelled. Without fsnotify it polls only.
func (w *Watcher) Run(ctx context.Context) error {
	for _, d := range []string{w.dir, filepath.Join(w.dir, ProcessedDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("create inbox: %w", err)
		}
	}
	w.scan(ctx)

	var events chan fsnotify.Event
	var errs chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(w.dir); err != nil {
			_ = watcher.Close()
		}
	}
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", zap.Error(err))
	} else {
		defer func() { _ = watcher.Close() }()
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(w.fallbackPoll)
	defer ticker.Stop()
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			w.scan(ctx)
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// Scan processes every pending drop file once, in name order, and returns
// how many were handled successfully.
func (w *Watcher) Scan(ctx context.Context) int {
	return w.scan(ctx)
}

func (w *Watcher) scan(ctx context.Context) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("read inbox", zap.Error(err))
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && accepted(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	ok := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if err := w.process(ctx, name); err != nil {
			w.logger.Warn("inbox file failed", zap.String("file", name), zap.Error(err))
			w.move(name, FailedDir)
			continue
		}
		w.move(name, ProcessedDir)
		ok++
	}
	return ok
}

func (w *Watcher) process(ctx context.Context, name string) error {
	f, err := os.Open(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}
	data, err := readLimited(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	it, err := Decode(name, data)
	if err != nil {
		return err
	}

	switch it.Kind {
	case KindEvent:
		res, err := w.handler.HandleEvent(ctx, protocol.Event{ID: it.ID, Type: it.Type, Payload: it.Payload})
		if err != nil {
			return err
		}
		w.logger.Info("inbox event", zap.String("file", name), zap.String("event", it.ID), zap.Bool("deduped", res.Deduped))
	case KindMission:
		res, err := w.handler.Enqueue(ctx, protocol.MissionSpec{
			Type:               it.Type,
			RequiredCapability: it.Capability,
			Payload:            it.Payload,
			Source:             "inbox",
		})
		if err != nil {
			return err
		}
		w.logger.Info("inbox mission", zap.String("file", name), zap.String("mission", res.Mission.ID))
	}
	return nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFileBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFileBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxFileBytes)
	}
	return data, nil
}

func (w *Watcher) move(name, sub string) {
	src := filepath.Join(w.dir, name)
	dst := filepath.Join(w.dir, sub, name)
	if err := os.Rename(src, dst); err != nil {
		w.logger.Error("move inbox file", zap.String("file", name), zap.String("to", sub), zap.Error(err))
		if sub == ProcessedDir {
			// A handled mission file must not be handled again.
			_ = os.Remove(src)
		}
	}
}
