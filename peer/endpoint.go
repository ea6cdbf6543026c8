package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dmora/acpeer"
	"github.com/dmora/acpeer/internal/errfmt"
	"github.com/dmora/acpeer/transport"
)

// Endpoint is the single authority over correlation, dispatch, and
// cancellation on one connection.
//
// Outbound requests (Call) allocate monotonically increasing integer
// ids and await completion in a pending table. Inbound frames are
// dispatched in arrival order: responses complete their pending call,
// requests run the installed Handler in a dedicated goroutine, and
// notifications fan out to subscribers. Outbound writes are serialized
// so frames never interleave on the transport.
type Endpoint struct {
	tr     transport.Transport
	log    *slog.Logger
	policy acpeer.Policy

	notifyBuffer int

	writeMu sync.Mutex
	nextID  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  map[acpeer.RequestID]chan acpeer.Response
	handler  Handler
	subs     []chan acpeer.Notification
	closed   bool
	failErr  error
	abortErr error

	tapMu sync.Mutex
	tap   *tapSink
	tapSz int

	done      chan struct{}
	closeOnce sync.Once
}

// New starts an endpoint over tr and begins reading inbound frames.
// The endpoint owns the transport; closing the endpoint closes it.
func New(tr transport.Transport, opts ...EndpointOption) *Endpoint {
	o := resolveEndpointOptions(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		tr:           tr,
		log:          o.Logger,
		policy:       o.Policy,
		notifyBuffer: o.NotifyBuffer,
		ctx:          ctx,
		cancel:       cancel,
		pending:      make(map[acpeer.RequestID]chan acpeer.Response),
		tapSz:        o.TapBuffer,
		done:         make(chan struct{}),
	}
	go e.readLoop()
	return e
}

// SetHandler installs the handler for inbound requests. Replacing the
// handler is allowed; in-flight invocations are not cancelled.
func (e *Endpoint) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Call sends a request and blocks until the response arrives, ctx
// expires, or the connection ends. params is marshalled into the
// request; a non-nil result receives the unmarshalled response result.
// Peer-reported errors are returned as *acpeer.RPCError.
//
// There is no implicit timeout: long-running calls such as prompts run
// until the peer answers. Callers bound individual calls with
// context.WithTimeout.
func (e *Endpoint) Call(ctx context.Context, method string, params, result any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("peer: marshal %s params: %w", method, err)
	}

	id := acpeer.IntID(e.nextID.Add(1))
	ch := make(chan acpeer.Response, 1)

	e.mu.Lock()
	if e.closed {
		failErr := e.failErr
		e.mu.Unlock()
		return fmt.Errorf("peer: call %s: %w", method, failErr)
	}
	e.pending[id] = ch
	e.mu.Unlock()

	if err := e.write(acpeer.Request{ID: id, Method: method, Params: raw}); err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return fmt.Errorf("peer: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return e.finishCall(resp, ok, method, result)
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		// The response may have arrived just before cancellation; drain
		// ch so a successful result is not discarded.
		select {
		case resp, ok := <-ch:
			return e.finishCall(resp, ok, method, result)
		default:
			return ctx.Err()
		}
	}
}

func (e *Endpoint) finishCall(resp acpeer.Response, ok bool, method string, result any) error {
	if !ok {
		e.mu.Lock()
		failErr := e.failErr
		e.mu.Unlock()
		return fmt.Errorf("peer: call %s: %w", method, failErr)
	}
	if resp.Err != nil {
		return resp.Err
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("peer: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a one-way notification. No pending state is created.
func (e *Endpoint) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("peer: marshal %s params: %w", method, err)
	}
	if err := e.write(acpeer.Notification{Method: method, Params: raw}); err != nil {
		return fmt.Errorf("peer: notify %s: %w", method, err)
	}
	return nil
}

// Notifications returns a new subscription to inbound notifications,
// delivered in arrival order. Each call creates an independent
// subscriber receiving notifications from this point on. The channel is
// closed when the connection ends. A subscriber that falls behind the
// buffer has newest notifications dropped with a warning.
func (e *Endpoint) Notifications() <-chan acpeer.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan acpeer.Notification, e.notifyBuffer)
	if e.closed {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, ch)
	return ch
}

// Done returns a channel closed when the connection has ended and all
// pending calls have been failed.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Err returns the terminal connection error after Done is closed:
// acpeer.ErrConnClosed for a graceful end, or the error passed to
// Abort. Returns nil while the connection is live.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		return nil
	}
	return e.failErr
}

// Close terminates the transport, fails every pending call with
// acpeer.ErrConnClosed, and finishes all notification and tap streams.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { _ = e.tr.Close() })
	<-e.done
	return nil
}

// Abort is Close with a cause: pending and subsequent calls fail with
// err instead of acpeer.ErrConnClosed. Supervisors use it to surface
// peer exit status to in-flight callers.
func (e *Endpoint) Abort(err error) {
	if err != nil {
		e.mu.Lock()
		if e.abortErr == nil {
			e.abortErr = err
		}
		e.mu.Unlock()
	}
	_ = e.Close()
}

// --- Inbound path ---

func (e *Endpoint) readLoop() {
	fr := acpeer.NewFrameReader(e.log)
	for chunk := range e.tr.Recv() {
		fr.Append(chunk)
		for {
			frame, ok := fr.Next()
			if !ok {
				break
			}
			e.dispatch(frame)
		}
	}
	e.shutdown()
}

func (e *Endpoint) dispatch(frame []byte) {
	e.record(DirInbound, frame)

	env, err := acpeer.Decode(frame, e.policy)
	if err != nil {
		e.log.Warn("dropping malformed frame", "err", err)
		return
	}

	switch v := env.(type) {
	case acpeer.Response:
		e.handleResponse(v)
	case acpeer.Request:
		e.handleRequest(v)
	case acpeer.Notification:
		e.publish(v)
	}
}

func (e *Endpoint) handleResponse(resp acpeer.Response) {
	e.mu.Lock()
	ch, ok := e.pending[resp.ID]
	if ok {
		delete(e.pending, resp.ID)
	}
	e.mu.Unlock()

	if !ok {
		// Stale: the call timed out, was cancelled, or was never ours.
		e.log.Warn("dropping response for unknown id", "id", resp.ID)
		return
	}
	ch <- resp
}

func (e *Endpoint) handleRequest(req acpeer.Request) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()

	// Dedicated goroutine so a slow handler never blocks the read loop.
	go func() {
		if h == nil {
			e.log.Warn("inbound request with no handler installed", "method", req.Method)
			e.respondError(req.ID, &acpeer.RPCError{
				Code:    acpeer.CodeInternalError,
				Message: "delegate not set",
			})
			return
		}
		result, err := h.Handle(e.ctx, req.Method, req.Params)
		if err != nil {
			e.respondError(req.ID, toRPCError(req.Method, err))
			return
		}
		raw, err := marshalParams(result)
		if err != nil {
			e.respondError(req.ID, &acpeer.RPCError{
				Code:    acpeer.CodeInternalError,
				Message: "marshal result: " + err.Error(),
			})
			return
		}
		e.respond(acpeer.Response{ID: req.ID, Result: raw})
	}()
}

func (e *Endpoint) publish(n acpeer.Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.subs {
		select {
		case sub <- n:
		default:
			e.log.Warn("subscriber full, dropping notification", "method", n.Method)
		}
	}
}

// respond writes a response frame. Send errors are intentionally
// ignored: the connection may already be closing, and the peer will
// time out if it never receives an answer.
func (e *Endpoint) respond(resp acpeer.Response) {
	if err := e.write(resp); err != nil {
		e.log.Debug("response write failed", "id", resp.ID, "err", err)
	}
}

func (e *Endpoint) respondError(id acpeer.RequestID, rpcErr *acpeer.RPCError) {
	e.respond(acpeer.Response{ID: id, Err: rpcErr})
}

// --- Internal ---

// write encodes env and hands the framed bytes to the transport as one
// serialized Send, so concurrent writers never interleave frames.
func (e *Endpoint) write(env acpeer.Envelope) error {
	frame, err := acpeer.Encode(env)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.record(DirOutbound, frame)
	return e.tr.Send(frame)
}

// shutdown runs exactly once, when the inbound stream ends. Pending
// calls unblock via closed channels; finishCall maps that to failErr.
func (e *Endpoint) shutdown() {
	e.cancel()

	e.mu.Lock()
	e.closed = true
	e.failErr = e.abortErr
	if e.failErr == nil {
		e.failErr = acpeer.ErrConnClosed
	}
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
	for _, sub := range e.subs {
		close(sub)
	}
	e.subs = nil
	e.mu.Unlock()

	e.closeOnce.Do(func() { _ = e.tr.Close() })
	e.CloseTap()
	close(e.done)
}

func toRPCError(method string, err error) *acpeer.RPCError {
	var rpcErr *acpeer.RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, acpeer.ErrMethodNotFound):
		return &acpeer.RPCError{
			Code:    acpeer.CodeMethodNotFound,
			Message: "method not found: " + method,
		}
	default:
		return &acpeer.RPCError{
			Code:    acpeer.CodeInternalError,
			Message: errfmt.Truncate(err.Error()),
		}
	}
}

// marshalParams renders params for the wire. nil stays absent, and raw
// JSON passes through untouched.
func marshalParams(params any) (json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(params)
	}
}
