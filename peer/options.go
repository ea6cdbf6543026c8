package peer

import (
	"io"
	"log/slog"

	"github.com/dmora/acpeer"
)

// Default endpoint configuration values.
const (
	defaultNotifyBuffer = 1024 // handles a full turn of session/update bursts without blocking
	defaultTapBuffer    = 256
)

// EndpointOptions holds resolved construction-time configuration for an
// Endpoint.
type EndpointOptions struct {
	// Logger receives warnings about dropped frames, stale responses,
	// and overflowing subscribers. Nil disables logging.
	Logger *slog.Logger

	// Policy selects how frames with malformed ids are classified.
	Policy acpeer.Policy

	// NotifyBuffer is the per-subscriber notification channel size.
	NotifyBuffer int

	// TapBuffer is the debug tap record buffer size.
	TapBuffer int
}

// EndpointOption configures an Endpoint at construction time.
type EndpointOption func(*EndpointOptions)

// WithLogger sets the logger for endpoint diagnostics.
func WithLogger(l *slog.Logger) EndpointOption {
	return func(o *EndpointOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithPolicy sets the envelope classification policy.
func WithPolicy(p acpeer.Policy) EndpointOption {
	return func(o *EndpointOptions) {
		o.Policy = p
	}
}

// WithNotifyBuffer sets the per-subscriber notification buffer size.
// Values <= 0 are ignored.
func WithNotifyBuffer(size int) EndpointOption {
	return func(o *EndpointOptions) {
		if size > 0 {
			o.NotifyBuffer = size
		}
	}
}

// WithTapBuffer sets the debug tap buffer size. Values <= 0 are ignored.
func WithTapBuffer(size int) EndpointOption {
	return func(o *EndpointOptions) {
		if size > 0 {
			o.TapBuffer = size
		}
	}
}

func resolveEndpointOptions(opts ...EndpointOption) EndpointOptions {
	o := EndpointOptions{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Policy:       acpeer.PolicyLenient,
		NotifyBuffer: defaultNotifyBuffer,
		TapBuffer:    defaultTapBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
