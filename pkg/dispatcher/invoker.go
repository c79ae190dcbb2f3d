package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ag3/pkg/protocol"

	"github.com/google/uuid"
)

// Invoker executes one mission on one agent.
type Invoker interface {
	Invoke(ctx context.Context, agent protocol.Agent, m protocol.Mission) (protocol.Output, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, agent protocol.Agent, m protocol.Mission) (protocol.Output, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, agent protocol.Agent, m protocol.Mission) (protocol.Output, error) {
	return f(ctx, agent, m)
}

// LocalInvoker executes missions in process and acknowledges them
// immediately.
type LocalInvoker struct {
	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewLocalInvoker returns a LocalInvoker.
func NewLocalInvoker() *LocalInvoker {
	return &LocalInvoker{nowFunc: time.Now}
}

// Invoke implements Invoker.
func (l *LocalInvoker) Invoke(ctx context.Context, agent protocol.Agent, m protocol.Mission) (protocol.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return protocol.Output{
		"agent":   agent.Name,
		"mission": m.Type,
		"status":  "OK",
		"payload": m.Payload,
		"ts":      l.nowFunc().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Header names sent by HTTPInvoker.
const (
	HeaderToken     = "x-autopilot-token"
	HeaderRequestID = "X-Request-ID"
)

// maxResponseBytes caps how much of an agent response is read.
const maxResponseBytes = 1 << 20

// HTTPInvoker POSTs each mission as JSON to the agent's endpoint.
type HTTPInvoker struct {
	client *http.Client
	token  string
}

// NewHTTPInvoker returns an HTTPInvoker authenticating with token. A nil
// client uses http.DefaultClient; per-call deadlines come from ctx.
func NewHTTPInvoker(client *http.Client, token string) *HTTPInvoker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPInvoker{client: client, token: token}
}

// Invoke implements Invoker. Any non-2xx response is a DispatchError.
func (h *HTTPInvoker) Invoke(ctx context.Context, agent protocol.Agent, m protocol.Mission) (protocol.Output, error) {
	fail := func(err error) (protocol.Output, error) {
		return nil, &protocol.DispatchError{MissionID: m.ID, Agent: agent.Name, Err: err}
	}
	if agent.Endpoint == "" {
		return fail(fmt.Errorf("agent has no endpoint"))
	}

	body, err := json.Marshal(m)
	if err != nil {
		return fail(fmt.Errorf("encode mission: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderToken, h.token)
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Errorf("agent returned %s: %s", resp.Status, bytes.TrimSpace(data)))
	}

	out := protocol.Output{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			out = protocol.Output{"body": string(data)}
		}
	}
	if _, ok := out["status"]; !ok {
		out["status"] = "OK"
	}
	out["agent"] = agent.Name
	out["request_id"] = requestID
	return out, nil
}
