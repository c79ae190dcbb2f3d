package mail_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ag3/pkg/mail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainReply = "From: Lead One <lead1@example.com>\r\n" +
	"Subject: Re: automation\r\n" +
	"Date: Mon, 02 Mar 2026 10:00:00 +0000\r\n" +
	"\r\n" +
	"Yes, I am interested. Call me.\r\n"

const multipartReply = "From: lead2@example.com\r\n" +
	"Subject: =?UTF-8?Q?Re:_pricing?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>How much?</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"How much does it cost?\r\n" +
	"--XYZ--\r\n"

func TestParse(t *testing.T) {
	msg, err := mail.Parse(strings.NewReader(plainReply))
	require.NoError(t, err)
	assert.Contains(t, msg.From, "lead1@example.com")
	assert.Equal(t, "Re: automation", msg.Subject)
	assert.Equal(t, "Yes, I am interested. Call me.", msg.Text)
	assert.Equal(t, 2026, msg.Date.Year())

	msg, err = mail.Parse(strings.NewReader(multipartReply))
	require.NoError(t, err)
	assert.Equal(t, "Re: pricing", msg.Subject)
	assert.Equal(t, "How much does it cost?", msg.Text)
}

func TestDirSource_FetchUnseenMarksSeen(t *testing.T) {
	root := t.TempDir()
	newDir := filepath.Join(root, "new")
	require.NoError(t, os.MkdirAll(newDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "001.eml"), []byte(plainReply), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "002.eml"), []byte(multipartReply), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "003.eml"), []byte("not a message"), 0o600))

	src := mail.NewDirSource(root)
	msgs, err := src.FetchUnseen(context.Background())
	assert.Error(t, err, "the unparsable file is reported")
	require.Len(t, msgs, 2)
	assert.Equal(t, "001.eml", msgs[0].ID)
	assert.Equal(t, "002.eml", msgs[1].ID)

	assert.FileExists(t, filepath.Join(root, "cur", "001.eml"))
	assert.FileExists(t, filepath.Join(root, "bad", "003.eml"))

	again, err := src.FetchUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDirSource_CreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "maildir")
	msgs, err := mail.NewDirSource(root).FetchUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.DirExists(t, filepath.Join(root, "new"))
}
