//go:build !windows

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dmora/acpeer"
	"github.com/dmora/acpeer/internal/errfmt"
	"github.com/dmora/acpeer/peer"
	"github.com/dmora/acpeer/terminal"
)

// PermissionFunc decides a session/request_permission prompt. The
// default declines by reporting a cancelled outcome.
type PermissionFunc func(ctx context.Context, p acpeer.RequestPermissionParams) (acpeer.PermissionOutcome, error)

// --- Options ---

// ConnOptions holds resolved construction-time configuration for a
// Conn.
type ConnOptions struct {
	Logger *slog.Logger

	// FS serves the agent's file requests. Default is LocalFS.
	FS FS

	// Terminals serves the agent's terminal requests. Default is a
	// fresh terminal.Manager.
	Terminals *terminal.Manager

	// Permission decides permission prompts. Default cancels.
	Permission PermissionFunc
}

// ConnOption configures a Conn at construction time.
type ConnOption func(*ConnOptions)

// WithLogger sets the logger for routing diagnostics.
func WithLogger(l *slog.Logger) ConnOption {
	return func(o *ConnOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithFS overrides the file request handler.
func WithFS(fs FS) ConnOption {
	return func(o *ConnOptions) {
		if fs != nil {
			o.FS = fs
		}
	}
}

// WithTerminals sets the terminal manager serving terminal requests.
func WithTerminals(m *terminal.Manager) ConnOption {
	return func(o *ConnOptions) {
		if m != nil {
			o.Terminals = m
		}
	}
}

// WithPermission sets the permission prompt handler.
func WithPermission(fn PermissionFunc) ConnOption {
	return func(o *ConnOptions) {
		if fn != nil {
			o.Permission = fn
		}
	}
}

func resolveConnOptions(opts ...ConnOption) ConnOptions {
	o := ConnOptions{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		FS:     LocalFS{},
		Permission: func(context.Context, acpeer.RequestPermissionParams) (acpeer.PermissionOutcome, error) {
			return acpeer.PermissionOutcome{Outcome: acpeer.PermissionCancelled}, nil
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Terminals == nil {
		o.Terminals = terminal.NewManager()
	}
	return o
}

// --- Conn ---

// Conn is the client role bound to one endpoint.
type Conn struct {
	ep   *peer.Endpoint
	opts ConnOptions
}

// Attach installs the client routing table as ep's handler and returns
// the facade. The endpoint's lifetime is the caller's concern.
func Attach(ep *peer.Endpoint, opts ...ConnOption) *Conn {
	c := &Conn{ep: ep, opts: resolveConnOptions(opts...)}
	ep.SetHandler(peer.HandlerFunc(c.handle))
	return c
}

// Endpoint returns the underlying endpoint.
func (c *Conn) Endpoint() *peer.Endpoint { return c.ep }

// --- Outbound (agent-side methods) ---

// Initialize performs the protocol handshake.
func (c *Conn) Initialize(ctx context.Context, p acpeer.InitializeParams) (acpeer.InitializeResult, error) {
	var res acpeer.InitializeResult
	err := c.ep.Call(ctx, acpeer.MethodInitialize, p, &res)
	return res, err
}

// NewSession creates a fresh session on the agent.
func (c *Conn) NewSession(ctx context.Context, p acpeer.NewSessionParams) (acpeer.NewSessionResult, error) {
	var res acpeer.NewSessionResult
	err := c.ep.Call(ctx, acpeer.MethodSessionNew, p, &res)
	return res, err
}

// LoadSession resumes a session. Agents restarted underneath a live
// host answer with an "already active" error; that is success from the
// caller's point of view, so it is absorbed and the requested session
// id is returned.
func (c *Conn) LoadSession(ctx context.Context, p acpeer.LoadSessionParams) (string, error) {
	err := c.ep.Call(ctx, acpeer.MethodSessionLoad, p, nil)
	if err != nil && !isAlreadyActive(err) {
		return "", err
	}
	return p.SessionID, nil
}

// Prompt runs one prompt turn to completion. Bound long turns with
// ctx; progress streams as session/update notifications.
func (c *Conn) Prompt(ctx context.Context, p acpeer.PromptParams) (acpeer.PromptResult, error) {
	var res acpeer.PromptResult
	err := c.ep.Call(ctx, acpeer.MethodSessionPrompt, p, &res)
	return res, err
}

// Cancel asks the agent to stop the session's in-flight turn.
func (c *Conn) Cancel(sessionID string) error {
	return c.ep.Notify(acpeer.MethodSessionCancel, acpeer.CancelParams{SessionID: sessionID})
}

// isAlreadyActive matches the error shapes agents use when a
// session/load hits a session they already hold.
func isAlreadyActive(err error) bool {
	var rpcErr *acpeer.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "already active") ||
		strings.Contains(msg, "already started") ||
		strings.Contains(msg, "already exists")
}

// --- Inbound routing ---

func (c *Conn) handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case acpeer.MethodFSReadTextFile:
		var p acpeer.ReadTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		return c.opts.FS.ReadTextFile(ctx, p)

	case acpeer.MethodFSWriteTextFile:
		var p acpeer.WriteTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		if err := c.opts.FS.WriteTextFile(ctx, p); err != nil {
			return nil, err
		}
		return nil, nil

	case acpeer.MethodTerminalCreate:
		var p acpeer.CreateTerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		env := make(map[string]string, len(p.Env))
		for _, kv := range p.Env {
			env[kv.Name] = kv.Value
		}
		id, err := c.opts.Terminals.Start(terminal.Create{
			Command:   p.Command,
			Args:      p.Args,
			CWD:       p.CWD,
			Env:       env,
			ByteLimit: p.OutputByteLimit,
		})
		if err != nil {
			return nil, err
		}
		return acpeer.CreateTerminalResult{TerminalID: id}, nil

	case acpeer.MethodTerminalOutput:
		p, err := terminalID(method, params)
		if err != nil {
			return nil, err
		}
		out, err := c.opts.Terminals.Output(p.TerminalID)
		if err != nil {
			return nil, err
		}
		res := acpeer.TerminalOutputResult{Output: out.Output, Truncated: out.Truncated}
		if out.Exit != nil {
			res.ExitStatus = wireExitStatus(*out.Exit)
		}
		return res, nil

	case acpeer.MethodTerminalWaitForExit:
		p, err := terminalID(method, params)
		if err != nil {
			return nil, err
		}
		st, err := c.opts.Terminals.WaitForExit(ctx, p.TerminalID)
		if err != nil {
			return nil, err
		}
		return wireExitStatus(st), nil

	case acpeer.MethodTerminalKill:
		p, err := terminalID(method, params)
		if err != nil {
			return nil, err
		}
		if _, err := c.opts.Terminals.Kill(ctx, p.TerminalID); err != nil {
			return nil, err
		}
		return nil, nil

	case acpeer.MethodTerminalRelease:
		p, err := terminalID(method, params)
		if err != nil {
			return nil, err
		}
		if err := c.opts.Terminals.Release(ctx, p.TerminalID); err != nil {
			return nil, err
		}
		return nil, nil

	case acpeer.MethodRequestPermission, acpeer.MethodRequestPermissionAlias:
		var p acpeer.RequestPermissionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s params: %w", method, err)
		}
		outcome, err := c.opts.Permission(ctx, p)
		if err != nil {
			return nil, err
		}
		outcome.OptionID = errfmt.SanitizeCode(outcome.OptionID)
		return acpeer.RequestPermissionResult{Outcome: outcome}, nil

	default:
		return nil, acpeer.ErrMethodNotFound
	}
}

func terminalID(method string, params json.RawMessage) (acpeer.TerminalIDParams, error) {
	var p acpeer.TerminalIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return p, fmt.Errorf("%s params: %w", method, err)
	}
	return p, nil
}

// wireExitStatus maps the manager's exit form to the wire shape:
// signal deaths report the signal with no exit code.
func wireExitStatus(st terminal.ExitStatus) *acpeer.TerminalExitStatus {
	if st.Signal != "" {
		sig := st.Signal
		return &acpeer.TerminalExitStatus{Signal: &sig}
	}
	code := st.Code
	return &acpeer.TerminalExitStatus{ExitCode: &code}
}
