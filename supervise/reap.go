//go:build !windows

package supervise

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ReapOrphans terminates registry entries left behind by hosts that
// exited without cleaning up. Entries older than a week are dropped
// unconditionally. A live entry is killed only when the running
// command still matches the recorded executable, so a recycled PID is
// never signaled. Entries that survive SIGKILL stay in the registry
// for the next attempt.
func (s *Supervisor) ReapOrphans() {
	recs := s.reg.load()
	if len(recs) == 0 {
		return
	}

	kept := pruneStale(recs, time.Now(), registryMaxAge)

	remaining := kept[:0]
	for _, rec := range kept {
		switch s.reapOne(rec) {
		case reapGone, reapKilled:
		default:
			remaining = append(remaining, rec)
		}
	}

	if err := s.reg.save(remaining); err != nil {
		s.opts.Logger.Warn("registry rewrite failed", "err", err)
	}
}

type reapOutcome int

const (
	reapGone reapOutcome = iota
	reapKilled
	reapRetained
)

func (s *Supervisor) reapOne(rec Record) reapOutcome {
	if !processAlive(rec.PID) {
		return reapGone
	}
	if !commandMatches(rec.PID, rec.AgentPath) {
		// PID recycled by an unrelated process.
		return reapGone
	}

	s.opts.Logger.Info("reaping orphan", "pid", rec.PID, "path", rec.AgentPath)

	signalRecord(rec, syscall.SIGTERM)
	if waitGone(rec.PID, s.opts.GracePeriod) {
		return reapKilled
	}

	signalRecord(rec, syscall.SIGKILL)
	if waitGone(rec.PID, reapKillWait) {
		return reapKilled
	}

	s.opts.Logger.Warn("orphan survived SIGKILL", "pid", rec.PID)
	return reapRetained
}

func signalRecord(rec Record, sig syscall.Signal) {
	if rec.PGID > 0 {
		if err := syscall.Kill(-rec.PGID, sig); err == nil {
			return
		}
	}
	syscall.Kill(rec.PID, sig)
}

// processAlive probes the PID with signal 0. EPERM still means a
// process exists there.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

func waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return !processAlive(pid)
}

// commandMatches reports whether the process's command line still
// refers to the recorded executable. Reads /proc where available and
// falls back to ps.
func commandMatches(pid int, agentPath string) bool {
	cmdline := readCommand(pid)
	if cmdline == "" {
		// Could not inspect; err on the side of not killing.
		return false
	}
	return strings.Contains(cmdline, agentPath)
}

func readCommand(pid int) string {
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid)); err == nil && len(data) > 0 {
		return strings.ReplaceAll(string(data), "\x00", " ")
	}
	out, err := exec.Command("ps", "-o", "command=", "-p", fmt.Sprint(pid)).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
