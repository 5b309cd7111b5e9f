// Package control implements the JSON command/status protocol.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/filter-control/internal/engine"
	"github.com/sweeney/filter-control/internal/status"
)

// Command names.
const (
	CmdShutdown   = "shutdown"
	CmdReset      = engine.CmdReset
	CmdClearError = engine.CmdClearError
	CmdStatus     = "status"
	CmdConfigure  = engine.CmdConfigure
	CmdSingleshot = engine.CmdSingleshot
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one control command.
type Request struct {
	Command string                     `json:"command"`
	Params  map[string]json.RawMessage `json:"params,omitempty"`
	ID      string                     `json:"id,omitempty"`
	// ReplyTo overrides the reply topic on transports that have one.
	ReplyTo string `json:"reply_to,omitempty"`
}

// Reply answers exactly one Request.
type Reply struct {
	Status         string              `json:"status"`
	ID             string              `json:"id,omitempty"`
	Error          string              `json:"error,omitempty"`
	StatusSnapshot *status.StatusInner `json:"status_snapshot,omitempty"`
}

// Engine is the part of *engine.Engine the protocol drives.
type Engine interface {
	Do(ctx context.Context, name string, params map[string]json.RawMessage) error
	Snapshot() status.Snapshot
	Shutdown()
}

// Observer counts handled commands. *metrics.Collector implements it.
type Observer interface {
	ObserveCommand(command, replyStatus string)
}

// Server dispatches requests to the engine.
type Server struct {
	engine   Engine
	observer Observer
}

// NewServer creates a server. observer may be nil.
func NewServer(e Engine, observer Observer) *Server {
	return &Server{engine: e, observer: observer}
}

// ParseRequest decodes a request payload.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("malformed request: %w", err)
	}
	if req.Command == "" {
		return req, errors.New("missing command")
	}
	return req, nil
}

// Handle parses and dispatches one payload. It always returns a reply,
// along with the reply-to address if the request carried one.
func (s *Server) Handle(ctx context.Context, data []byte) (Reply, string) {
	req, err := ParseRequest(data)
	if err != nil {
		s.observe("invalid", StatusError)
		return Reply{Status: StatusError, ID: req.ID, Error: err.Error()}, req.ReplyTo
	}
	return s.Dispatch(ctx, req), req.ReplyTo
}

// Dispatch runs one request.
func (s *Server) Dispatch(ctx context.Context, req Request) Reply {
	var err error
	switch req.Command {
	case CmdStatus:
	case CmdShutdown:
		log.Printf("control: shutdown requested id=%s", req.ID)
		s.engine.Shutdown()
	case CmdReset, CmdClearError, CmdConfigure, CmdSingleshot:
		err = s.engine.Do(ctx, req.Command, req.Params)
	default:
		s.observe("unknown", StatusError)
		return Reply{Status: StatusError, ID: req.ID, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}

	snap := status.Reply(s.engine.Snapshot())
	reply := Reply{Status: StatusOK, ID: req.ID, StatusSnapshot: &snap}
	if err != nil {
		reply.Status = StatusError
		reply.Error = err.Error()
	}
	s.observe(req.Command, reply.Status)
	return reply
}

func (s *Server) observe(command, replyStatus string) {
	if s.observer != nil {
		s.observer.ObserveCommand(command, replyStatus)
	}
}
