// Package peertest provides a scripted in-memory peer for exercising
// endpoints and role facades without subprocesses.
//
// A [Peer] sits on one half of a transport pair and answers inbound
// requests from a method script. It can also originate requests and
// notifications toward the code under test, and records everything it
// received for assertions.
package peertest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmora/acpeer"
	"github.com/dmora/acpeer/transport"
)

// Handler scripts the reply for one method. Return a result value or a
// wire error; returning both nils produces a null result.
type Handler func(req acpeer.Request) (any, *acpeer.RPCError)

// Peer is a scripted remote peer over an in-memory transport.
type Peer struct {
	tr transport.Transport

	mu       sync.Mutex
	handlers map[string]Handler
	requests []acpeer.Request
	notes    []acpeer.Notification
	pending  map[acpeer.RequestID]chan acpeer.Response
	nextID   int64

	done chan struct{}
}

// New returns a scripted peer and the transport for the code under
// test. The peer starts reading immediately.
func New() (*Peer, transport.Transport) {
	mine, theirs := transport.Pair()
	p := &Peer{
		tr:       mine,
		handlers: make(map[string]Handler),
		pending:  make(map[acpeer.RequestID]chan acpeer.Response),
		done:     make(chan struct{}),
	}
	go p.readLoop()
	return p, theirs
}

// Handle scripts the responder for method. Unscripted methods are
// answered with a method-not-found error.
func (p *Peer) Handle(method string, fn Handler) {
	p.mu.Lock()
	p.handlers[method] = fn
	p.mu.Unlock()
}

// Result scripts a fixed successful result for method.
func (p *Peer) Result(method string, result any) {
	p.Handle(method, func(acpeer.Request) (any, *acpeer.RPCError) {
		return result, nil
	})
}

// Fail scripts a fixed error for method.
func (p *Peer) Fail(method string, code int, message string) {
	p.Handle(method, func(acpeer.Request) (any, *acpeer.RPCError) {
		return nil, &acpeer.RPCError{Code: code, Message: message}
	})
}

// Notify sends a notification to the code under test.
func (p *Peer) Notify(method string, params any) error {
	raw, err := marshal(params)
	if err != nil {
		return err
	}
	return p.send(acpeer.Notification{Method: method, Params: raw})
}

// Call sends a request to the code under test and waits for its
// response.
func (p *Peer) Call(method string, params any, timeout time.Duration) (acpeer.Response, error) {
	raw, err := marshal(params)
	if err != nil {
		return acpeer.Response{}, err
	}

	p.mu.Lock()
	p.nextID++
	id := acpeer.IntID(p.nextID)
	ch := make(chan acpeer.Response, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.send(acpeer.Request{ID: id, Method: method, Params: raw}); err != nil {
		return acpeer.Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return acpeer.Response{}, fmt.Errorf("peertest: no response to %s within %v", method, timeout)
	case <-p.done:
		return acpeer.Response{}, errors.New("peertest: transport closed")
	}
}

// Requests returns every inbound request seen so far, in order.
func (p *Peer) Requests() []acpeer.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]acpeer.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Notifications returns every inbound notification seen so far.
func (p *Peer) Notifications() []acpeer.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]acpeer.Notification, len(p.notes))
	copy(out, p.notes)
	return out
}

// WaitNotification blocks until a notification with the method arrives
// or the timeout elapses.
func (p *Peer) WaitNotification(method string, timeout time.Duration) (acpeer.Notification, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		for _, n := range p.notes {
			if n.Method == method {
				p.mu.Unlock()
				return n, true
			}
		}
		p.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return acpeer.Notification{}, false
}

// Close ends the transport pair.
func (p *Peer) Close() error { return p.tr.Close() }

// --- Internal ---

func (p *Peer) readLoop() {
	defer close(p.done)
	fr := acpeer.NewFrameReader(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for chunk := range p.tr.Recv() {
		fr.Append(chunk)
		for {
			frame, ok := fr.Next()
			if !ok {
				break
			}
			p.dispatch(frame)
		}
	}
}

func (p *Peer) dispatch(frame []byte) {
	env, err := acpeer.Decode(frame, acpeer.PolicyLenient)
	if err != nil {
		return
	}
	switch v := env.(type) {
	case acpeer.Request:
		p.mu.Lock()
		p.requests = append(p.requests, v)
		fn := p.handlers[v.Method]
		p.mu.Unlock()
		p.answer(v, fn)
	case acpeer.Notification:
		p.mu.Lock()
		p.notes = append(p.notes, v)
		p.mu.Unlock()
	case acpeer.Response:
		p.mu.Lock()
		ch, ok := p.pending[v.ID]
		if ok {
			delete(p.pending, v.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- v
		}
	}
}

func (p *Peer) answer(req acpeer.Request, fn Handler) {
	if fn == nil {
		p.send(acpeer.Response{ID: req.ID, Err: &acpeer.RPCError{
			Code:    acpeer.CodeMethodNotFound,
			Message: "method not found: " + req.Method,
		}})
		return
	}
	result, rpcErr := fn(req)
	if rpcErr != nil {
		p.send(acpeer.Response{ID: req.ID, Err: rpcErr})
		return
	}
	raw, err := marshal(result)
	if err != nil {
		p.send(acpeer.Response{ID: req.ID, Err: &acpeer.RPCError{
			Code:    acpeer.CodeInternalError,
			Message: "marshal scripted result: " + err.Error(),
		}})
		return
	}
	p.send(acpeer.Response{ID: req.ID, Result: raw})
}

func (p *Peer) send(env acpeer.Envelope) error {
	frame, err := acpeer.Encode(env)
	if err != nil {
		return err
	}
	return p.tr.Send(frame)
}

func marshal(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	default:
		return json.Marshal(t)
	}
}
