package peer

import (
	"time"

	"github.com/dmora/acpeer/internal/jsonscan"
)

// Direction marks which way a tapped frame travelled.
type Direction int

const (
	DirInbound Direction = iota
	DirOutbound
)

func (d Direction) String() string {
	if d == DirOutbound {
		return "out"
	}
	return "in"
}

// TapRecord is one mirrored frame with its direction and wall-clock
// receive/send time. Method is extracted by a cheap top-level scan and
// is empty for responses.
type TapRecord struct {
	Dir    Direction
	Time   time.Time
	Raw    []byte
	Method string
}

// tapSink is a bounded record stream. The producer never blocks: when
// the buffer is full the oldest record is dropped to make room.
type tapSink struct {
	ch chan TapRecord
}

// Tap enables the debug tap and returns its record stream. Enabling is
// idempotent: while a tap is active, every call returns the same
// stream. The stream is closed by CloseTap or when the connection ends.
func (e *Endpoint) Tap() <-chan TapRecord {
	e.tapMu.Lock()
	defer e.tapMu.Unlock()
	if e.tap == nil {
		e.tap = &tapSink{ch: make(chan TapRecord, e.tapSz)}
	}
	return e.tap.ch
}

// CloseTap disables the tap and closes its stream. A later Tap call
// starts a fresh stream.
func (e *Endpoint) CloseTap() {
	e.tapMu.Lock()
	defer e.tapMu.Unlock()
	if e.tap != nil {
		close(e.tap.ch)
		e.tap = nil
	}
}

// record mirrors one frame to the tap, if enabled. Never blocks the
// data path.
func (e *Endpoint) record(dir Direction, frame []byte) {
	e.tapMu.Lock()
	defer e.tapMu.Unlock()
	if e.tap == nil {
		return
	}
	rec := TapRecord{
		Dir:    dir,
		Time:   time.Now(),
		Raw:    append([]byte(nil), frame...),
		Method: jsonscan.Method(frame),
	}
	select {
	case e.tap.ch <- rec:
	default:
		// Full: drop the oldest record, then retry once.
		select {
		case <-e.tap.ch:
		default:
		}
		select {
		case e.tap.ch <- rec:
		default:
		}
	}
}
