// Package agent is the agent-side facade over a peer endpoint.
//
// A [Server] routes the session method set (initialize, session/new,
// session/prompt, session/load) into an [Agent] implementation,
// delivers session/cancel notifications, and exposes typed wrappers
// for calling back into the client's fs, terminal, and permission
// methods.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmora/acpeer"
	"github.com/dmora/acpeer/notify"
	"github.com/dmora/acpeer/peer"
)

// Agent is the application logic served over the connection. Handler
// methods run concurrently with further inbound traffic; Cancel is
// delivered out of band from the notification stream.
type Agent interface {
	Initialize(ctx context.Context, p acpeer.InitializeParams) (acpeer.InitializeResult, error)
	NewSession(ctx context.Context, p acpeer.NewSessionParams) (acpeer.NewSessionResult, error)
	LoadSession(ctx context.Context, p acpeer.LoadSessionParams) error
	Prompt(ctx context.Context, p acpeer.PromptParams) (acpeer.PromptResult, error)
	Cancel(ctx context.Context, p acpeer.CancelParams)
}

// --- Options ---

// ServerOptions holds resolved construction-time configuration for a
// Server.
type ServerOptions struct {
	Logger *slog.Logger
}

// ServerOption configures a Server at construction time.
type ServerOption func(*ServerOptions)

// WithLogger sets the logger for routing diagnostics.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *ServerOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

func resolveServerOptions(opts ...ServerOption) ServerOptions {
	o := ServerOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// --- Server ---

// Server binds an Agent to one endpoint.
type Server struct {
	ep    *peer.Endpoint
	agent Agent
	opts  ServerOptions

	cancelCtx  context.Context
	cancelStop context.CancelFunc
}

// Serve installs the agent routing table as ep's handler and starts
// delivering session/cancel notifications. The endpoint's lifetime is
// the caller's concern.
func Serve(ep *peer.Endpoint, a Agent, opts ...ServerOption) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		ep:         ep,
		agent:      a,
		opts:       resolveServerOptions(opts...),
		cancelCtx:  ctx,
		cancelStop: stop,
	}
	ep.SetHandler(peer.HandlerFunc(s.handle))
	go s.deliverCancels()
	return s
}

// Endpoint returns the underlying endpoint.
func (s *Server) Endpoint() *peer.Endpoint { return s.ep }

// Stop ends cancel delivery. It does not close the endpoint.
func (s *Server) Stop() { s.cancelStop() }

// deliverCancels routes session/cancel notifications into the agent.
func (s *Server) deliverCancels() {
	ch := notify.Filter(s.cancelCtx, s.ep.Notifications(), acpeer.MethodSessionCancel)
	for n := range ch {
		var p acpeer.CancelParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			s.opts.Logger.Warn("malformed session/cancel params", "err", err)
			continue
		}
		s.agent.Cancel(s.cancelCtx, p)
	}
}

func (s *Server) handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case acpeer.MethodInitialize:
		var p acpeer.InitializeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		return s.agent.Initialize(ctx, p)

	case acpeer.MethodSessionNew:
		var p acpeer.NewSessionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		return s.agent.NewSession(ctx, p)

	case acpeer.MethodSessionLoad:
		var p acpeer.LoadSessionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		if err := s.agent.LoadSession(ctx, p); err != nil {
			return nil, err
		}
		return nil, nil

	case acpeer.MethodSessionPrompt:
		var p acpeer.PromptParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		return s.agent.Prompt(ctx, p)

	default:
		return nil, acpeer.ErrMethodNotFound
	}
}

// --- Client-side callbacks ---

// Update streams one session/update notification to the client.
func (s *Server) Update(sessionID string, update json.RawMessage) error {
	return s.ep.Notify(acpeer.MethodSessionUpdate, acpeer.SessionUpdateParams{
		SessionID: sessionID,
		Update:    update,
	})
}

// ReadTextFile asks the client to read a file.
func (s *Server) ReadTextFile(ctx context.Context, p acpeer.ReadTextFileParams) (acpeer.ReadTextFileResult, error) {
	var res acpeer.ReadTextFileResult
	err := s.ep.Call(ctx, acpeer.MethodFSReadTextFile, p, &res)
	return res, err
}

// WriteTextFile asks the client to write a file.
func (s *Server) WriteTextFile(ctx context.Context, p acpeer.WriteTextFileParams) error {
	return s.ep.Call(ctx, acpeer.MethodFSWriteTextFile, p, nil)
}

// RequestPermission asks the client to confirm a tool call.
func (s *Server) RequestPermission(ctx context.Context, p acpeer.RequestPermissionParams) (acpeer.RequestPermissionResult, error) {
	var res acpeer.RequestPermissionResult
	err := s.ep.Call(ctx, acpeer.MethodRequestPermission, p, &res)
	return res, err
}

// CreateTerminal asks the client to run a command.
func (s *Server) CreateTerminal(ctx context.Context, p acpeer.CreateTerminalParams) (acpeer.CreateTerminalResult, error) {
	var res acpeer.CreateTerminalResult
	err := s.ep.Call(ctx, acpeer.MethodTerminalCreate, p, &res)
	return res, err
}

// TerminalOutput fetches a terminal's buffered output.
func (s *Server) TerminalOutput(ctx context.Context, p acpeer.TerminalIDParams) (acpeer.TerminalOutputResult, error) {
	var res acpeer.TerminalOutputResult
	err := s.ep.Call(ctx, acpeer.MethodTerminalOutput, p, &res)
	return res, err
}

// WaitForTerminalExit blocks until the terminal's child exits.
func (s *Server) WaitForTerminalExit(ctx context.Context, p acpeer.TerminalIDParams) (acpeer.TerminalExitStatus, error) {
	var res acpeer.TerminalExitStatus
	err := s.ep.Call(ctx, acpeer.MethodTerminalWaitForExit, p, &res)
	return res, err
}

// KillTerminal forcefully terminates a terminal's child.
func (s *Server) KillTerminal(ctx context.Context, p acpeer.TerminalIDParams) error {
	return s.ep.Call(ctx, acpeer.MethodTerminalKill, p, nil)
}

// ReleaseTerminal retires a terminal, keeping its output readable.
func (s *Server) ReleaseTerminal(ctx context.Context, p acpeer.TerminalIDParams) error {
	return s.ep.Call(ctx, acpeer.MethodTerminalRelease, p, nil)
}
