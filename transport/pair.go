package transport

import "sync"

const pairBuffer = 64

// Pair returns two connected in-memory transports: bytes sent on one
// side arrive on the other's Recv stream. Closing either side ends
// both streams. Intended for tests and in-process peers.
func Pair() (Transport, Transport) {
	done := make(chan struct{})
	once := new(sync.Once)
	atob := make(chan []byte, pairBuffer)
	btoa := make(chan []byte, pairBuffer)
	a := newPairHalf(atob, btoa, done, once)
	b := newPairHalf(btoa, atob, done, once)
	return a, b
}

type pairHalf struct {
	out  chan<- []byte
	recv chan []byte
	done chan struct{}
	once *sync.Once
}

func newPairHalf(out chan []byte, in <-chan []byte, done chan struct{}, once *sync.Once) *pairHalf {
	h := &pairHalf{
		out:  out,
		recv: make(chan []byte),
		done: done,
		once: once,
	}
	go func() {
		defer close(h.recv)
		for {
			select {
			case <-done:
				return
			case p := <-in:
				select {
				case h.recv <- p:
				case <-done:
					return
				}
			}
		}
	}()
	return h
}

func (h *pairHalf) Send(p []byte) error {
	c := make([]byte, len(p))
	copy(c, p)
	select {
	case h.out <- c:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

func (h *pairHalf) Recv() <-chan []byte { return h.recv }

func (h *pairHalf) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}
