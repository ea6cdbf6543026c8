package acpeer

import "encoding/json"

// Method names exchanged between the two roles. The client routes the
// fs/terminal/permission set; the agent routes the session set.
const (
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionLoad   = "session/load"
	MethodSessionPrompt = "session/prompt"
	MethodSessionCancel = "session/cancel"
	MethodSessionUpdate = "session/update"

	MethodRequestPermission = "session/request_permission"
	// MethodRequestPermissionAlias is accepted for peers predating the
	// session/ prefix.
	MethodRequestPermissionAlias = "request_permission"

	MethodFSReadTextFile  = "fs/read_text_file"
	MethodFSWriteTextFile = "fs/write_text_file"

	MethodTerminalCreate      = "terminal/create"
	MethodTerminalOutput      = "terminal/output"
	MethodTerminalWaitForExit = "terminal/wait_for_exit"
	MethodTerminalKill        = "terminal/kill"
	MethodTerminalRelease     = "terminal/release"
)

// InitializeParams opens the protocol handshake.
type InitializeParams struct {
	ProtocolVersion    int             `json:"protocolVersion"`
	ClientCapabilities json.RawMessage `json:"clientCapabilities,omitempty"`
}

// InitializeResult is the agent's half of the handshake.
type InitializeResult struct {
	ProtocolVersion   int             `json:"protocolVersion"`
	AgentCapabilities json.RawMessage `json:"agentCapabilities,omitempty"`
	AuthMethods       json.RawMessage `json:"authMethods,omitempty"`
}

// NewSessionParams requests a fresh session.
type NewSessionParams struct {
	CWD        string          `json:"cwd"`
	MCPServers json.RawMessage `json:"mcpServers,omitempty"`
}

// NewSessionResult carries the agent-allocated session id.
type NewSessionResult struct {
	SessionID string `json:"sessionId"`
}

// LoadSessionParams resumes a previously created session.
type LoadSessionParams struct {
	SessionID  string          `json:"sessionId"`
	CWD        string          `json:"cwd,omitempty"`
	MCPServers json.RawMessage `json:"mcpServers,omitempty"`
}

// PromptParams starts one prompt turn.
type PromptParams struct {
	SessionID string          `json:"sessionId"`
	Prompt    json.RawMessage `json:"prompt"`
}

// PromptResult ends one prompt turn.
type PromptResult struct {
	StopReason string `json:"stopReason"`
}

// CancelParams is the session/cancel notification payload.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SessionUpdateParams is the session/update notification payload. The
// update body is agent-defined and passes through opaque.
type SessionUpdateParams struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// ReadTextFileParams asks the client to read a file. Line and Limit
// select an optional 1-based line window.
type ReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// ReadTextFileResult returns the requested file content.
type ReadTextFileResult struct {
	Content string `json:"content"`
}

// WriteTextFileParams asks the client to write a file.
type WriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// EnvVar is one environment override for a terminal.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateTerminalParams asks the client to run a command.
type CreateTerminalParams struct {
	SessionID       string   `json:"sessionId"`
	Command         string   `json:"command"`
	Args            []string `json:"args,omitempty"`
	Env             []EnvVar `json:"env,omitempty"`
	CWD             string   `json:"cwd,omitempty"`
	OutputByteLimit int      `json:"outputByteLimit,omitempty"`
}

// CreateTerminalResult carries the opaque terminal handle.
type CreateTerminalResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalIDParams addresses an existing terminal.
type TerminalIDParams struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalExitStatus reports how a terminal child ended.
type TerminalExitStatus struct {
	ExitCode *int    `json:"exitCode,omitempty"`
	Signal   *string `json:"signal,omitempty"`
}

// TerminalOutputResult is the current buffered output. ExitStatus is
// nil while the child is running.
type TerminalOutputResult struct {
	Output     string              `json:"output"`
	Truncated  bool                `json:"truncated"`
	ExitStatus *TerminalExitStatus `json:"exitStatus,omitempty"`
}

// PermissionOption is one choice the user may pick.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
}

// RequestPermissionParams asks the client to confirm a tool call.
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  json.RawMessage    `json:"toolCall,omitempty"`
	Options   []PermissionOption `json:"options"`
}

// Permission outcome discriminators.
const (
	PermissionSelected  = "selected"
	PermissionCancelled = "cancelled"
)

// PermissionOutcome is the user's decision.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// RequestPermissionResult wraps the outcome.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}
