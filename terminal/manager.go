//go:build !windows

package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/dmora/acpeer/shellenv"
)

// Failure modes for terminal operations.
var (
	ErrNotFound           = errors.New("terminal: session not found")
	ErrReleased           = errors.New("terminal: session released")
	ErrExecutableNotFound = errors.New("terminal: executable not found")
	ErrCommandParse       = errors.New("terminal: command parse failed")
)

const (
	defaultByteLimit   = 1_000_000
	defaultReleasedCap = 50
)

// ExitStatus describes how a terminal child exited.
type ExitStatus struct {
	// Code is the exit status; -1 when the child died on a signal.
	Code int
	// Signal names the terminating signal, if any.
	Signal string
}

// Output is the result of [Manager.Output].
type Output struct {
	// Output holds the most recent buffered bytes, oldest first.
	Output string
	// Truncated is true once any bytes have been dropped by the cap.
	Truncated bool
	// Exit is nil while the child is still running.
	Exit *ExitStatus
}

// Create describes one terminal session to start.
type Create struct {
	// Command is the program, a whitespace-joined command line, or a
	// shell expression.
	Command string
	// Args are passed verbatim unless shell syntax forces sh -c.
	Args []string
	// CWD is the child's working directory. Empty inherits the host's.
	CWD string
	// Env holds overrides merged over the login-shell snapshot.
	Env map[string]string
	// ByteLimit caps the output buffer. Zero means the default cap.
	ByteLimit int
}

// --- Options ---

// ManagerOptions holds resolved construction-time configuration for a
// Manager.
type ManagerOptions struct {
	Logger *slog.Logger

	// Env supplies the base child environment. Nil uses the
	// process-wide shellenv snapshot.
	Env *shellenv.Snapshotter

	// ReleasedCap bounds the released-session cache.
	ReleasedCap int
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*ManagerOptions)

// WithLogger sets the logger for session diagnostics.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(o *ManagerOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithEnv sets the snapshotter supplying the base child environment.
func WithEnv(s *shellenv.Snapshotter) ManagerOption {
	return func(o *ManagerOptions) {
		if s != nil {
			o.Env = s
		}
	}
}

// WithReleasedCap bounds the released-session cache. Values <= 0 are
// ignored.
func WithReleasedCap(n int) ManagerOption {
	return func(o *ManagerOptions) {
		if n > 0 {
			o.ReleasedCap = n
		}
	}
}

func resolveManagerOptions(opts ...ManagerOption) ManagerOptions {
	o := ManagerOptions{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ReleasedCap: defaultReleasedCap,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// --- Manager ---

// Manager owns every live terminal session and the released cache.
type Manager struct {
	opts ManagerOptions

	mu       sync.Mutex
	live     map[string]*session
	released map[string]releasedEntry
	// releaseOrder holds released ids oldest-first for FIFO eviction.
	releaseOrder []string
}

type releasedEntry struct {
	output    string
	truncated bool
	exit      ExitStatus
}

type session struct {
	id   string
	cmd  *exec.Cmd
	ring *ring

	mu      sync.Mutex
	exited  bool
	exit    ExitStatus
	waiters []chan ExitStatus

	done chan struct{}
}

// NewManager builds an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	return &Manager{
		opts:     resolveManagerOptions(opts...),
		live:     make(map[string]*session),
		released: make(map[string]releasedEntry),
	}
}

// Start spawns the described command and returns its opaque session
// id. Stdout and stderr are merged into the session's capped buffer.
func (m *Manager) Start(cfg Create) (string, error) {
	inv, err := buildInvocation(cfg.Command, cfg.Args)
	if err != nil {
		return "", err
	}

	limit := cfg.ByteLimit
	if limit <= 0 {
		limit = defaultByteLimit
	}

	cmd := exec.Command(inv.path, inv.args...)
	cmd.Dir = cfg.CWD
	cmd.Env = m.buildEnv(cfg.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outR, outW, err := os.Pipe()
	if err != nil {
		return "", fmt.Errorf("terminal: output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, cfg.Command)
		}
		return "", fmt.Errorf("terminal: start %s: %w", cfg.Command, err)
	}
	outW.Close()

	s := &session{
		id:   uuid.NewString(),
		cmd:  cmd,
		ring: newRing(limit),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.live[s.id] = s
	m.mu.Unlock()

	go m.watch(s, outR)

	m.opts.Logger.Debug("terminal started", "id", s.id, "pid", cmd.Process.Pid, "command", cfg.Command)
	return s.id, nil
}

// watch drains the merged output into the ring, reaps the child, and
// resolves every pending waiter.
func (m *Manager) watch(s *session, out io.ReadCloser) {
	defer out.Close()
	io.Copy(s.ring, out)

	err := s.cmd.Wait()
	status := exitStatusOf(s.cmd, err)

	s.mu.Lock()
	s.exited = true
	s.exit = status
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w <- status
		close(w)
	}
	close(s.done)
	m.opts.Logger.Debug("terminal exited", "id", s.id, "code", status.Code, "signal", status.Signal)
}

func exitStatusOf(cmd *exec.Cmd, err error) ExitStatus {
	st := ExitStatus{Code: 0}
	if ps := cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Code = -1
			st.Signal = ws.Signal().String()
		}
	} else if err != nil {
		st.Code = -1
	}
	return st
}

func (m *Manager) buildEnv(overrides map[string]string) []string {
	var base map[string]string
	if m.opts.Env != nil {
		base = m.opts.Env.Snapshot()
	} else {
		base = shellenv.Snapshot()
	}
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Output returns the session's buffered output. A released session
// keeps answering with its final output and exit status until the
// cache evicts it.
func (m *Manager) Output(id string) (Output, error) {
	m.mu.Lock()
	s, live := m.live[id]
	rel, wasReleased := m.released[id]
	m.mu.Unlock()

	if live {
		buf, truncated := s.ring.snapshot()
		o := Output{Output: string(buf), Truncated: truncated}
		s.mu.Lock()
		if s.exited {
			st := s.exit
			o.Exit = &st
		}
		s.mu.Unlock()
		return o, nil
	}
	if wasReleased {
		st := rel.exit
		return Output{Output: rel.output, Truncated: rel.truncated, Exit: &st}, nil
	}
	return Output{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// WaitForExit blocks until the session's child exits and returns its
// status. Returns immediately for an already-exited child.
func (m *Manager) WaitForExit(ctx context.Context, id string) (ExitStatus, error) {
	s, err := m.liveSession(id)
	if err != nil {
		return ExitStatus{}, err
	}

	s.mu.Lock()
	if s.exited {
		st := s.exit
		s.mu.Unlock()
		return st, nil
	}
	w := make(chan ExitStatus, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case st := <-w:
		return st, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Kill forcefully terminates the session's child and waits for the
// reap. Pending waiters resolve with the observed exit status.
func (m *Manager) Kill(ctx context.Context, id string) (ExitStatus, error) {
	s, err := m.liveSession(id)
	if err != nil {
		return ExitStatus{}, err
	}
	s.signalGroup(syscall.SIGKILL)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
	s.mu.Lock()
	st := s.exit
	s.mu.Unlock()
	return st, nil
}

// Release retires the session: the child is killed if still running,
// the final output and exit status move into the released cache, and
// the live entry is removed. The cache evicts oldest-first at its cap.
func (m *Manager) Release(ctx context.Context, id string) error {
	s, err := m.liveSession(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	running := !s.exited
	s.mu.Unlock()
	if running {
		s.signalGroup(syscall.SIGKILL)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	buf, truncated := s.ring.snapshot()
	s.mu.Lock()
	st := s.exit
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.live, id)
	m.released[id] = releasedEntry{output: string(buf), truncated: truncated, exit: st}
	m.releaseOrder = append(m.releaseOrder, id)
	for len(m.releaseOrder) > m.opts.ReleasedCap {
		evict := m.releaseOrder[0]
		m.releaseOrder = m.releaseOrder[1:]
		delete(m.released, evict)
	}
	m.mu.Unlock()

	m.opts.Logger.Debug("terminal released", "id", id)
	return nil
}

// liveSession looks up a live session, distinguishing released ids
// from unknown ones.
func (m *Manager) liveSession(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.live[id]; ok {
		return s, nil
	}
	if _, ok := m.released[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrReleased, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *session) signalGroup(sig syscall.Signal) {
	pid := s.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		if err := s.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return
		}
	}
}
