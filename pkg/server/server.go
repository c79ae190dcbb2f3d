// Package server exposes the orchestrator on a Unix domain socket.
//
// The wire format is line-delimited JSON protocol.Message values. Every
// request line is answered with exactly one ACK line on the same
// connection; a connection may carry any number of requests.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ag3/pkg/cycle"
	"ag3/pkg/protocol"

	"go.uber.org/zap"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 1 << 20

// Handler serves decoded requests.
type Handler interface {
	HandleEvent(ctx context.Context, ev protocol.Event) (protocol.IngestResult, error)
	Enqueue(ctx context.Context, spec protocol.MissionSpec) (protocol.EnqueueResult, error)
	PollNext(ctx context.Context, agent string, capabilities []string) (*protocol.Mission, error)
	Report(ctx context.Context, id string, status protocol.MissionStatus, output protocol.Output) (protocol.Mission, error)
	Register(ctx context.Context, p protocol.RegisterPayload) (protocol.Agent, error)
	Heartbeat(ctx context.Context, name string) error
	Health(ctx context.Context) (protocol.Health, error)
	TriggerCycle(ctx context.Context, kind protocol.CycleKind) (protocol.CycleResult, error)
}

// Server accepts socket connections and answers requests.
type Server struct {
	path    string
	handler Handler
	logger  *zap.Logger

	listening atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a Server for the socket at path.
func New(path string, h Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		path:    path,
		handler: h,
		logger:  logger.Named("server"),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listening reports whether the socket is accepting connections.
func (s *Server) Listening() bool {
	return s.listening.Load()
}

// Serve listens on the socket and blocks until ctx is cancelled. On return
// the listener and all connections are closed and the socket file removed.
func (s *Server) Serve(ctx context.Context) error {
	if err := cleanStaleSocket(s.path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path) //nolint:noctx // UDS bind is instant
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listening.Store(true)
	s.logger.Info("listening", zap.String("socket", s.path))

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ctx, ln)
	}()

	<-ctx.Done()
	s.listening.Store(false)
	_ = ln.Close()
	<-acceptDone

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	_ = os.Remove(s.path)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads request lines until the peer disconnects.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		var msg protocol.Message
		var ack protocol.ACKPayload
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			ack = failure(fmt.Errorf("decode request: %w: %w", protocol.ErrInvalidRequest, err))
		} else {
			ack = s.handle(ctx, msg)
		}
		if err := enc.Encode(protocol.Message{Type: protocol.MsgACK, ACK: &ack}); err != nil {
			s.logger.Debug("write ack", zap.Error(err))
			return
		}
	}
	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		// The rest of the line cannot be framed, so the connection ends
		// after this ACK.
		ack := failure(fmt.Errorf("request line exceeds %d bytes: %w", maxLineBytes, protocol.ErrInvalidRequest))
		if werr := enc.Encode(protocol.Message{Type: protocol.MsgACK, ACK: &ack}); werr != nil {
			s.logger.Debug("write ack", zap.Error(werr))
		}
		s.logger.Warn("request line too long", zap.Int("limit", maxLineBytes))
		return
	}
	if err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("read request", zap.Error(err))
	}
}

func errMissingPayload(t protocol.MessageType) error {
	return fmt.Errorf("%s: missing payload: %w", t, protocol.ErrInvalidRequest)
}

// handle runs one request and builds its ACK.
func (s *Server) handle(ctx context.Context, msg protocol.Message) protocol.ACKPayload {
	var (
		data any
		err  error
	)
	switch msg.Type {
	case protocol.MsgEvent:
		if msg.Event == nil {
			return failure(errMissingPayload(msg.Type))
		}
		data, err = s.handler.HandleEvent(ctx, *msg.Event)
	case protocol.MsgEnqueue:
		if msg.Enqueue == nil {
			return failure(errMissingPayload(msg.Type))
		}
		spec := *msg.Enqueue
		if spec.Source == "" {
			spec.Source = "api"
		}
		data, err = s.handler.Enqueue(ctx, spec)
	case protocol.MsgPoll:
		if msg.Poll == nil {
			return failure(errMissingPayload(msg.Type))
		}
		data, err = s.handler.PollNext(ctx, msg.Poll.Agent, msg.Poll.Capabilities)
	case protocol.MsgReport:
		if msg.Report == nil {
			return failure(errMissingPayload(msg.Type))
		}
		data, err = s.handler.Report(ctx, msg.Report.MissionID, msg.Report.Status, msg.Report.Output)
	case protocol.MsgRegister:
		if msg.Register == nil {
			return failure(errMissingPayload(msg.Type))
		}
		data, err = s.handler.Register(ctx, *msg.Register)
	case protocol.MsgHeartbeat:
		if msg.Heartbeat == nil {
			return failure(errMissingPayload(msg.Type))
		}
		err = s.handler.Heartbeat(ctx, msg.Heartbeat.Name)
	case protocol.MsgHealth:
		data, err = s.handler.Health(ctx)
	case protocol.MsgCycle:
		if msg.Cycle == nil {
			return failure(errMissingPayload(msg.Type))
		}
		data, err = s.handler.TriggerCycle(ctx, msg.Cycle.Kind)
	default:
		return failure(fmt.Errorf("unknown message type %q: %w", msg.Type, protocol.ErrInvalidRequest))
	}

	if err != nil {
		ack := failure(err)
		if ack.Code == protocol.CodeInternal {
			s.logger.Error("request failed", zap.String("type", string(msg.Type)), zap.Error(err))
		}
		return ack
	}
	ack := protocol.ACKPayload{OK: true}
	if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			return failure(merr)
		}
		ack.Data = raw
	}
	return ack
}

// failure maps err onto an ACK error code.
func failure(err error) protocol.ACKPayload {
	return protocol.ACKPayload{Code: Code(err), Detail: err.Error()}
}

// Code classifies err for the wire.
func Code(err error) string {
	var (
		unknown    *protocol.UnknownAgentError
		notFound   *protocol.MissionNotFoundError
		transition *protocol.InvalidTransitionError
	)
	switch {
	case errors.As(err, &unknown):
		return protocol.CodeUnknownAgent
	case errors.As(err, &notFound), errors.Is(err, cycle.ErrUnknownCycle):
		return protocol.CodeNotFound
	case errors.As(err, &transition):
		return protocol.CodeInvalidTransition
	case errors.Is(err, cycle.ErrCycleBusy):
		return protocol.CodeBusy
	case errors.Is(err, protocol.ErrInvalidRequest):
		return protocol.CodeBadRequest
	default:
		return protocol.CodeInternal
	}
}
