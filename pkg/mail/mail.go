// Package mail is the boundary to the reply mailbox. The reply-check cycle
// only sees the Source interface; DirSource reads a maildir-style directory
// that an external fetcher (IMAP, forwarding rule) fills.
package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Message is one inbound reply.
type Message struct {
	ID      string
	From    string
	Subject string
	Date    time.Time
	Text    string
}

// Source yields unseen replies. Each returned message is marked seen and
// is not returned again.
type Source interface {
	FetchUnseen(ctx context.Context) ([]Message, error)
}

// maxMessageBytes caps how much of one message file is parsed.
const maxMessageBytes = 4 << 20

// DirSource reads RFC 5322 messages from <root>/new and moves each parsed
// file to <root>/cur. Files that cannot be parsed move to <root>/bad.
type DirSource struct {
	root string
}

// NewDirSource returns a DirSource rooted at root. The new, cur and bad
// subdirectories are created on first fetch.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// FetchUnseen implements Source. Messages are returned in file name order.
func (d *DirSource) FetchUnseen(ctx context.Context) ([]Message, error) {
	for _, sub := range []string{"new", "cur", "bad"} {
		if err := os.MkdirAll(filepath.Join(d.root, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create maildir %s: %w", sub, err)
		}
	}

	newDir := filepath.Join(d.root, "new")
	entries, err := os.ReadDir(newDir)
	if err != nil {
		return nil, fmt.Errorf("read maildir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Message
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		path := filepath.Join(newDir, name)
		msg, perr := parseFile(path)
		dest := "cur"
		if perr != nil {
			dest = "bad"
			errs = append(errs, fmt.Errorf("parse %s: %w", name, perr))
		}
		if err := os.Rename(path, filepath.Join(d.root, dest, name)); err != nil {
			errs = append(errs, fmt.Errorf("mark %s seen: %w", name, err))
			continue
		}
		if perr == nil {
			msg.ID = name
			out = append(out, msg)
		}
	}
	return out, errors.Join(errs...)
}

func parseFile(path string) (Message, error) {
	//nolint:gosec // path is inside the configured maildir
	f, err := os.Open(path)
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = f.Close() }()
	return Parse(io.LimitReader(f, maxMessageBytes))
}

// Parse reads one RFC 5322 message and extracts its plain text body.
func Parse(r io.Reader) (Message, error) {
	m, err := netmail.ReadMessage(r)
	if err != nil {
		return Message{}, err
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(m.Header.Get("Subject"))
	if err != nil {
		subject = m.Header.Get("Subject")
	}
	msg := Message{From: "unknown", Subject: subject}
	if from := m.Header.Get("From"); from != "" {
		msg.From = from
		if addr, err := netmail.ParseAddress(from); err == nil {
			msg.From = addr.String()
		}
	}
	if date, err := m.Header.Date(); err == nil {
		msg.Date = date
	}

	text, err := plainText(m.Header.Get("Content-Type"), m.Body)
	if err != nil {
		return Message{}, err
	}
	msg.Text = strings.TrimSpace(text)
	return msg, nil
}

// plainText returns the first text/plain part of body.
func plainText(contentType string, body io.Reader) (string, error) {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("content type %q: %w", contentType, err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			text, err := plainText(part.Header.Get("Content-Type"), part)
			if err != nil {
				return "", err
			}
			if text != "" {
				return text, nil
			}
		}
	}

	if mediaType != "text/plain" {
		return "", nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
