//go:build !windows

package supervise

import (
	"io"
	"log/slog"
	"time"

	"github.com/dmora/acpeer/shellenv"
)

// Default supervisor configuration values.
const (
	defaultGracePeriod = 2 * time.Second
	pollInterval       = 50 * time.Millisecond
	reapKillWait       = time.Second
	registryMaxAge     = 7 * 24 * time.Hour
)

// SupervisorOptions holds resolved construction-time configuration for
// a Supervisor.
type SupervisorOptions struct {
	// Logger receives spawn/terminate/reap diagnostics and, by default,
	// child stderr lines. Nil disables logging.
	Logger *slog.Logger

	// GracePeriod is the wait between SIGTERM and SIGKILL.
	GracePeriod time.Duration

	// RegistryPath overrides the orphan registry file location.
	// Default is <UserConfigDir>/ACP/acp-processes.json.
	RegistryPath string

	// Env supplies the base child environment. Nil uses the
	// process-wide shellenv snapshot.
	Env *shellenv.Snapshotter

	// StderrSink receives the child's raw stderr. Nil routes stderr
	// lines to the logger at debug level.
	StderrSink io.Writer
}

// SupervisorOption configures a Supervisor at construction time.
type SupervisorOption func(*SupervisorOptions)

// WithLogger sets the logger for supervisor diagnostics.
func WithLogger(l *slog.Logger) SupervisorOption {
	return func(o *SupervisorOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithGracePeriod sets the SIGTERM-to-SIGKILL wait. Values <= 0 are
// ignored.
func WithGracePeriod(d time.Duration) SupervisorOption {
	return func(o *SupervisorOptions) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithRegistryPath overrides the orphan registry file location.
func WithRegistryPath(path string) SupervisorOption {
	return func(o *SupervisorOptions) {
		if path != "" {
			o.RegistryPath = path
		}
	}
}

// WithEnv sets the snapshotter supplying the base child environment.
func WithEnv(s *shellenv.Snapshotter) SupervisorOption {
	return func(o *SupervisorOptions) {
		if s != nil {
			o.Env = s
		}
	}
}

// WithStderrSink redirects child stderr to w instead of the logger.
func WithStderrSink(w io.Writer) SupervisorOption {
	return func(o *SupervisorOptions) {
		if w != nil {
			o.StderrSink = w
		}
	}
}

func resolveSupervisorOptions(opts ...SupervisorOption) SupervisorOptions {
	o := SupervisorOptions{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		GracePeriod: defaultGracePeriod,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
