//go:build !windows

package supervise

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dmora/acpeer"
	"github.com/dmora/acpeer/shellenv"
	"github.com/dmora/acpeer/transport"
)

// Spawn describes one peer subprocess to start.
type Spawn struct {
	// Path is the peer executable. Symlinks are followed one level and
	// env-node launcher scripts are run through a located node binary.
	Path string

	// Args are passed to the executable.
	Args []string

	// CWD is the child's working directory. Empty uses the host's.
	CWD string

	// Env holds caller overrides merged over the login-shell snapshot.
	Env map[string]string
}

// Supervisor spawns peer subprocesses and reaps orphans left behind by
// crashed hosts.
type Supervisor struct {
	opts SupervisorOptions
	reg  *registry
}

// New builds a Supervisor. It does not touch the registry; call
// [Supervisor.ReapOrphans] to clean up after previous hosts.
func New(opts ...SupervisorOption) (*Supervisor, error) {
	o := resolveSupervisorOptions(opts...)
	path := o.RegistryPath
	if path == "" {
		p, err := defaultRegistryPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Supervisor{opts: o, reg: &registry{path: path}}, nil
}

// Start spawns the peer described by cfg. The child runs in its own
// process group and is recorded in the registry until it exits.
func (s *Supervisor) Start(cfg Spawn) (*Peer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("supervise: empty executable path")
	}
	res, err := resolveExecutable(cfg.Path)
	if err != nil {
		return nil, err
	}

	cwd := cfg.CWD
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	env := s.buildEnv(cfg.Env, cwd, res.dir)

	cmd := exec.Command(res.path, append(res.prefixArgs, cfg.Args...)...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Manual pipes instead of StdinPipe/StdoutPipe: cmd.Wait closes the
	// pipes those helpers manage, which races the transport read loop.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("supervise: stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("supervise: stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("supervise: stderr pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("supervise: start %s: %w", cfg.Path, err)
	}

	// The child holds its own copies now.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	rec := Record{
		PID:       pid,
		PGID:      pgid,
		AgentPath: cfg.Path,
		StartedAt: time.Now().UnixMilli(),
	}
	if err := s.reg.add(rec); err != nil {
		s.opts.Logger.Warn("registry write failed", "err", err)
	}

	p := &Peer{
		cmd:    cmd,
		pid:    pid,
		pgid:   pgid,
		stdin:  stdinW,
		stdout: stdoutR,
		grace:  s.opts.GracePeriod,
		log:    s.opts.Logger,
		done:   make(chan struct{}),
	}

	go s.forwardStderr(stderrR)
	go p.watch(func() { s.removeRecord(pid) })

	s.opts.Logger.Info("peer started", "pid", pid, "path", cfg.Path)
	return p, nil
}

func (s *Supervisor) removeRecord(pid int) {
	if err := s.reg.remove(pid); err != nil {
		s.opts.Logger.Warn("registry cleanup failed", "pid", pid, "err", err)
	}
}

// buildEnv merges, in increasing precedence: the login-shell snapshot,
// caller overrides, and the cwd-derived PWD/OLDPWD. execDir, the
// directory of the executable path as given (before symlink or
// launcher resolution), is prepended to PATH.
func (s *Supervisor) buildEnv(overrides map[string]string, cwd, execDir string) []string {
	var base map[string]string
	if s.opts.Env != nil {
		base = s.opts.Env.Snapshot()
	} else {
		base = shellenv.Snapshot()
	}

	merged := make(map[string]string, len(base)+len(overrides)+2)
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	if cwd != "" {
		if old, ok := merged["PWD"]; ok {
			merged["OLDPWD"] = old
		}
		merged["PWD"] = cwd
	}
	if execDir != "" {
		if path, ok := merged["PATH"]; ok && path != "" {
			merged["PATH"] = execDir + string(filepath.ListSeparator) + path
		} else {
			merged["PATH"] = execDir
		}
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// forwardStderr drains the child's stderr. With no sink configured,
// lines go to the logger at debug level.
func (s *Supervisor) forwardStderr(r io.ReadCloser) {
	defer r.Close()
	if s.opts.StderrSink != nil {
		io.Copy(s.opts.StderrSink, r)
		return
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.opts.Logger.Debug("peer stderr", "line", sc.Text())
	}
}

// --- Peer ---

// Peer is one supervised subprocess.
type Peer struct {
	cmd    *exec.Cmd
	pid    int
	pgid   int
	stdin  *os.File
	stdout *os.File
	grace  time.Duration
	log    *slog.Logger

	stopMu   sync.Mutex
	stopping bool
	stopOnce sync.Once

	done    chan struct{}
	waitErr error
}

// PID returns the child's process id.
func (p *Peer) PID() int { return p.pid }

// Transport returns a stream transport over the child's stdio. Closing
// it closes the child's stdin and the host's stdout reader.
func (p *Peer) Transport() transport.Transport {
	return transport.NewStream(p.stdout, p.stdin, p.stdin, p.stdout)
}

// Done is closed when the child has exited and been reaped.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err reports how the child exited. Nil for exit status zero or a
// deliberate Terminate; otherwise an [acpeer.ExitError].
func (p *Peer) Err() error {
	<-p.done
	return p.waitErr
}

// Wait blocks until the child exits and returns Err.
func (p *Peer) Wait() error { return p.Err() }

// watch reaps the child and records its exit disposition.
func (p *Peer) watch(cleanup func()) {
	err := p.cmd.Wait()

	p.stopMu.Lock()
	deliberate := p.stopping
	p.stopMu.Unlock()

	if deliberate {
		p.waitErr = nil
	} else {
		p.waitErr = wrapExitError(err)
	}
	cleanup()
	close(p.done)
	if p.waitErr != nil {
		p.log.Warn("peer exited", "pid", p.pid, "err", p.waitErr)
	} else {
		p.log.Info("peer exited", "pid", p.pid)
	}
}

// Terminate shuts the child down: close stdin, SIGTERM the process
// group, wait up to the grace period, then SIGKILL. Safe to call more
// than once; the exit is recorded as deliberate so Err returns nil.
func (p *Peer) Terminate(ctx context.Context) error {
	p.stopMu.Lock()
	p.stopping = true
	p.stopMu.Unlock()

	p.stopOnce.Do(func() {
		p.stdin.Close()
		p.signalGroup(syscall.SIGTERM)

		deadline := time.NewTimer(p.grace)
		defer deadline.Stop()
		tick := time.NewTicker(pollInterval)
		defer tick.Stop()

	wait:
		for {
			select {
			case <-p.done:
				return
			case <-ctx.Done():
				break wait
			case <-deadline.C:
				break wait
			case <-tick.C:
			}
		}

		p.log.Warn("peer ignored SIGTERM, killing", "pid", p.pid)
		p.signalGroup(syscall.SIGKILL)
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalGroup signals the whole process group, falling back to the
// process itself if the group is gone.
func (p *Peer) signalGroup(sig syscall.Signal) {
	if p.pgid > 0 {
		if err := syscall.Kill(-p.pgid, sig); err == nil {
			return
		}
	}
	if proc := p.cmd.Process; proc != nil {
		if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.log.Debug("signal failed", "pid", p.pid, "sig", sig, "err", err)
		}
	}
}

// wrapExitError converts exec's exit error into the module's typed
// form. A zero exit status is not an error; a signal death maps to
// code -1.
func wrapExitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code := ee.ExitCode()
		if code == 0 {
			return nil
		}
		return &acpeer.ExitError{Code: code, Err: err}
	}
	return &acpeer.ExitError{Code: -1, Err: err}
}
