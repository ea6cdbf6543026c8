package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmora/acpeer"
	"github.com/dmora/acpeer/peer"
	"github.com/dmora/acpeer/peertest"
)

const callTimeout = 5 * time.Second

// stubAgent records calls and answers from canned values.
type stubAgent struct {
	mu       sync.Mutex
	inits    []acpeer.InitializeParams
	sessions []acpeer.NewSessionParams
	loads    []acpeer.LoadSessionParams
	prompts  []acpeer.PromptParams
	cancels  []acpeer.CancelParams

	loadErr error
}

func (a *stubAgent) Initialize(_ context.Context, p acpeer.InitializeParams) (acpeer.InitializeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inits = append(a.inits, p)
	return acpeer.InitializeResult{ProtocolVersion: p.ProtocolVersion}, nil
}

func (a *stubAgent) NewSession(_ context.Context, p acpeer.NewSessionParams) (acpeer.NewSessionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, p)
	return acpeer.NewSessionResult{SessionID: "sess-42"}, nil
}

func (a *stubAgent) LoadSession(_ context.Context, p acpeer.LoadSessionParams) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loads = append(a.loads, p)
	return a.loadErr
}

func (a *stubAgent) Prompt(_ context.Context, p acpeer.PromptParams) (acpeer.PromptResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, p)
	return acpeer.PromptResult{StopReason: "end_turn"}, nil
}

func (a *stubAgent) Cancel(_ context.Context, p acpeer.CancelParams) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels = append(a.cancels, p)
}

func (a *stubAgent) cancelled() []acpeer.CancelParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]acpeer.CancelParams, len(a.cancels))
	copy(out, a.cancels)
	return out
}

func testServer(t *testing.T) (*Server, *stubAgent, *peertest.Peer) {
	t.Helper()
	remote, tr := peertest.New()
	ep := peer.New(tr)
	t.Cleanup(func() { ep.Close() })
	t.Cleanup(func() { remote.Close() })

	a := &stubAgent{}
	s := Serve(ep, a)
	t.Cleanup(s.Stop)
	return s, a, remote
}

func TestServer_Initialize(t *testing.T) {
	_, a, remote := testServer(t)

	resp, err := remote.Call(acpeer.MethodInitialize,
		acpeer.InitializeParams{ProtocolVersion: 1}, callTimeout)
	require.NoError(t, err)
	require.Nil(t, resp.Err)

	var res acpeer.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Equal(t, 1, res.ProtocolVersion)
	require.Len(t, a.inits, 1)
}

func TestServer_NewSession(t *testing.T) {
	_, a, remote := testServer(t)

	resp, err := remote.Call(acpeer.MethodSessionNew,
		acpeer.NewSessionParams{CWD: "/work"}, callTimeout)
	require.NoError(t, err)
	require.Nil(t, resp.Err)

	var res acpeer.NewSessionResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Equal(t, "sess-42", res.SessionID)
	require.Len(t, a.sessions, 1)
	assert.Equal(t, "/work", a.sessions[0].CWD)
}

func TestServer_LoadSession(t *testing.T) {
	_, a, remote := testServer(t)

	resp, err := remote.Call(acpeer.MethodSessionLoad,
		acpeer.LoadSessionParams{SessionID: "s-1"}, callTimeout)
	require.NoError(t, err)
	require.Nil(t, resp.Err)
	require.Len(t, a.loads, 1)
	assert.Equal(t, "s-1", a.loads[0].SessionID)
}

func TestServer_LoadSessionErrorBecomesWireError(t *testing.T) {
	_, a, remote := testServer(t)
	a.loadErr = errors.New("no such session")

	resp, err := remote.Call(acpeer.MethodSessionLoad,
		acpeer.LoadSessionParams{SessionID: "s-gone"}, callTimeout)
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
	assert.Equal(t, acpeer.CodeInternalError, resp.Err.Code)
	assert.Contains(t, resp.Err.Message, "no such session")
}

func TestServer_Prompt(t *testing.T) {
	_, a, remote := testServer(t)

	resp, err := remote.Call(acpeer.MethodSessionPrompt, acpeer.PromptParams{
		SessionID: "sess-42",
		Prompt:    json.RawMessage(`[{"type":"text","text":"hi"}]`),
	}, callTimeout)
	require.NoError(t, err)
	require.Nil(t, resp.Err)

	var res acpeer.PromptResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Equal(t, "end_turn", res.StopReason)
	require.Len(t, a.prompts, 1)
}

func TestServer_CancelNotificationReachesAgent(t *testing.T) {
	_, a, remote := testServer(t)

	require.NoError(t, remote.Notify(acpeer.MethodSessionCancel,
		acpeer.CancelParams{SessionID: "sess-42"}))

	require.Eventually(t, func() bool {
		return len(a.cancelled()) == 1
	}, callTimeout, 5*time.Millisecond)
	assert.Equal(t, "sess-42", a.cancelled()[0].SessionID)
}

func TestServer_UpdateIsNotification(t *testing.T) {
	s, _, remote := testServer(t)

	require.NoError(t, s.Update("sess-42", json.RawMessage(`{"kind":"text","text":"chunk"}`)))

	n, ok := remote.WaitNotification(acpeer.MethodSessionUpdate, callTimeout)
	require.True(t, ok)
	var p acpeer.SessionUpdateParams
	require.NoError(t, json.Unmarshal(n.Params, &p))
	assert.Equal(t, "sess-42", p.SessionID)
	assert.JSONEq(t, `{"kind":"text","text":"chunk"}`, string(p.Update))
	assert.Empty(t, remote.Requests(), "update must not be a request")
}

func TestServer_ReadTextFileCallback(t *testing.T) {
	s, _, remote := testServer(t)
	remote.Result(acpeer.MethodFSReadTextFile, acpeer.ReadTextFileResult{Content: "body"})

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	res, err := s.ReadTextFile(ctx, acpeer.ReadTextFileParams{SessionID: "s", Path: "/tmp/f"})
	require.NoError(t, err)
	assert.Equal(t, "body", res.Content)
}

func TestServer_RequestPermissionCallback(t *testing.T) {
	s, _, remote := testServer(t)
	remote.Result(acpeer.MethodRequestPermission, acpeer.RequestPermissionResult{
		Outcome: acpeer.PermissionOutcome{Outcome: acpeer.PermissionSelected, OptionID: "allow"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	res, err := s.RequestPermission(ctx, acpeer.RequestPermissionParams{
		SessionID: "s",
		Options:   []acpeer.PermissionOption{{OptionID: "allow", Name: "Allow"}},
	})
	require.NoError(t, err)
	assert.Equal(t, acpeer.PermissionSelected, res.Outcome.Outcome)
	assert.Equal(t, "allow", res.Outcome.OptionID)
}

func TestServer_TerminalCallbacks(t *testing.T) {
	s, _, remote := testServer(t)
	remote.Result(acpeer.MethodTerminalCreate, acpeer.CreateTerminalResult{TerminalID: "term-1"})
	code := 0
	remote.Result(acpeer.MethodTerminalWaitForExit, acpeer.TerminalExitStatus{ExitCode: &code})
	remote.Result(acpeer.MethodTerminalOutput, acpeer.TerminalOutputResult{Output: "done\n"})
	remote.Result(acpeer.MethodTerminalRelease, nil)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	created, err := s.CreateTerminal(ctx, acpeer.CreateTerminalParams{SessionID: "s", Command: "make"})
	require.NoError(t, err)
	assert.Equal(t, "term-1", created.TerminalID)

	id := acpeer.TerminalIDParams{SessionID: "s", TerminalID: created.TerminalID}

	st, err := s.WaitForTerminalExit(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 0, *st.ExitCode)

	out, err := s.TerminalOutput(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "done\n", out.Output)

	require.NoError(t, s.ReleaseTerminal(ctx, id))
}

func TestServer_UnroutedMethod(t *testing.T) {
	_, _, remote := testServer(t)

	resp, err := remote.Call("fs/read_text_file", nil, callTimeout)
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
	assert.Equal(t, acpeer.CodeMethodNotFound, resp.Err.Code)
}
