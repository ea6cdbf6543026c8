package transport

import (
	"fmt"
	"io"
	"sync"
)

const (
	readChunkSize = 32 * 1024
	recvBuffer    = 16
)

// Stream adapts an io.Reader / io.Writer pair into a Transport. The
// usual pair is a child process's stdout and stdin.
type Stream struct {
	w       io.Writer
	recv    chan []byte
	done    chan struct{}
	once    sync.Once
	closers []io.Closer
}

// NewStream starts a Stream reading from r and writing to w. Any
// closers are closed (in order) when the Stream is closed; pass the
// pipe ends so Close releases them.
func NewStream(r io.Reader, w io.Writer, closers ...io.Closer) *Stream {
	s := &Stream{
		w:       w,
		recv:    make(chan []byte, recvBuffer),
		done:    make(chan struct{}),
		closers: closers,
	}
	go s.readLoop(r)
	return s
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.recv)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.recv <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Send writes p to the underlying writer.
func (s *Stream) Send(p []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if _, err := s.w.Write(p); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Recv returns the inbound byte stream.
func (s *Stream) Recv() <-chan []byte { return s.recv }

// Close stops the reader and closes any registered closers.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		for _, c := range s.closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
