package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"ag3/pkg/protocol"
)

// RemoteError is a failed ACK.
type RemoteError struct {
	Code   string
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Client sends requests over one socket connection. It is not safe for
// concurrent use.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	enc     *json.Encoder
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to ag3: %w", err)
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Client{conn: conn, scanner: sc, enc: json.NewEncoder(conn)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends msg and waits for its ACK. A failed ACK is returned as a
// *RemoteError. On success the ACK data is decoded into out when out is
// not nil.
func (c *Client) Do(ctx context.Context, msg protocol.Message, out any) error {
	// A zero deadline clears any previous one.
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetDeadline(deadline)

	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("read ack: %w", err)
		}
		return fmt.Errorf("no ack received")
	}

	var resp protocol.Message
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("unmarshal ack: %w", err)
	}
	if resp.Type != protocol.MsgACK || resp.ACK == nil {
		return fmt.Errorf("unexpected response type: %s", resp.Type)
	}
	if !resp.ACK.OK {
		return &RemoteError{Code: resp.ACK.Code, Detail: resp.ACK.Detail}
	}
	if out != nil && len(resp.ACK.Data) > 0 {
		if err := json.Unmarshal(resp.ACK.Data, out); err != nil {
			return fmt.Errorf("decode %s result: %w", msg.Type, err)
		}
	}
	return nil
}

// Call dials path, performs one request and disconnects.
func Call(ctx context.Context, path string, msg protocol.Message, out any) error {
	c, err := Dial(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return c.Do(ctx, msg, out)
}
