package acpeer

import (
	"bytes"
	"io"
	"log/slog"
)

// Frame reader tuning constants.
const (
	// maxNoisePrefix is how many bytes of non-JSON output may accumulate
	// without a newline before the buffer is declared hopelessly noisy
	// and discarded.
	maxNoisePrefix = 4096

	// stallWarnBytes is the buffered size past which the reader warns
	// that no complete frame has been produced.
	stallWarnBytes = 200_000
)

// FrameReader extracts complete top-level JSON values from an append-only
// byte buffer, tolerating interleaved non-JSON output on the same stream
// (agent startup banners and stray diagnostics are common in practice).
//
// FrameReader tracks brace/bracket balance and string state only — it
// never interprets JSON semantics. Not safe for concurrent use; the
// reading goroutine owns it.
type FrameReader struct {
	buf    bytes.Buffer
	log    *slog.Logger
	warned bool
}

// NewFrameReader returns a FrameReader that reports stall warnings and
// discarded noise through logger. A nil logger disables reporting.
func NewFrameReader(logger *slog.Logger) *FrameReader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FrameReader{log: logger}
}

// Append adds newly received bytes to the buffer.
func (r *FrameReader) Append(p []byte) {
	r.buf.Write(p)
}

// Len returns the number of buffered bytes not yet emitted.
func (r *FrameReader) Len() int { return r.buf.Len() }

// Next pops the next complete JSON value from the buffer. Returns
// (frame, true) when a whole value is available; (nil, false) when more
// bytes are needed. After a frame is returned the buffer holds only
// bytes that were not part of it.
func (r *FrameReader) Next() ([]byte, bool) {
	for {
		data := r.buf.Bytes()

		// Skip leading whitespace.
		start := 0
		for start < len(data) && isJSONSpace(data[start]) {
			start++
		}
		if start > 0 {
			r.buf.Next(start)
			data = r.buf.Bytes()
		}
		if len(data) == 0 {
			return nil, false
		}

		// Non-JSON prefix: drop through the next newline.
		if data[0] != '{' && data[0] != '[' {
			nl := bytes.IndexByte(data, '\n')
			if nl < 0 {
				if len(data) > maxNoisePrefix {
					r.log.Warn("discarding hopelessly noisy stream buffer", "bytes", len(data))
					r.buf.Reset()
				}
				return nil, false
			}
			r.buf.Next(nl + 1)
			continue
		}

		end, ok := scanValue(data)
		if !ok {
			if r.buf.Len() > stallWarnBytes && !r.warned {
				r.warned = true
				r.log.Warn("frame buffer growing without a complete frame", "bytes", r.buf.Len())
			}
			return nil, false
		}

		frame := make([]byte, end)
		copy(frame, data[:end])
		r.buf.Next(end)
		r.warned = false
		return frame, true
	}
}

// scanValue finds the end of the first balanced JSON value in data,
// which must start with '{' or '['. Returns (end, true) when the value
// closes at data[end-1].
func scanValue(data []byte) (int, bool) {
	depth := 0
	inString := false
	for i := 0; i < len(data); i++ {
		b := data[i]
		if inString {
			switch b {
			case '\\':
				i++ // skip the escaped byte
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
