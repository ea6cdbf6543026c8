package acpeer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is a JSON-RPC correlation id: a signed integer or a non-empty
// string. The zero value is "absent". RequestID is comparable and usable
// as a map key.
//
// ACP peers disagree on `id: null` — see [Policy] for how the codec treats
// frames whose id is present but neither integer nor string.
type RequestID struct {
	num   int64
	str   string
	isStr bool
	set   bool
}

// IntID returns a numeric request id.
func IntID(n int64) RequestID { return RequestID{num: n, set: true} }

// StringID returns a string request id. Empty strings are not valid ids;
// callers should validate before constructing.
func StringID(s string) RequestID { return RequestID{str: s, isStr: true, set: true} }

// Valid reports whether the id is present.
func (id RequestID) Valid() bool { return id.set }

// Int returns the numeric value and whether the id is numeric.
func (id RequestID) Int() (int64, bool) { return id.num, id.set && !id.isStr }

// String renders the id for logging: the digits for numeric ids, the
// quoted text for string ids, "<none>" when absent.
func (id RequestID) String() string {
	switch {
	case !id.set:
		return "<none>"
	case id.isStr:
		return strconv.Quote(id.str)
	default:
		return strconv.FormatInt(id.num, 10)
	}
}

// MarshalJSON encodes the id as a JSON number or string.
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.set:
		return nil, fmt.Errorf("acpeer: marshal absent request id")
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return strconv.AppendInt(nil, id.num, 10), nil
	}
}

// parseRequestID interprets a raw JSON id value. Returns an invalid
// RequestID (Valid() == false) for null, floats, arrays, objects,
// booleans, and empty strings.
func parseRequestID(raw json.RawMessage) RequestID {
	if len(raw) == 0 {
		return RequestID{}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return RequestID{}
		}
		return StringID(s)
	default:
		n, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
		if err != nil {
			return RequestID{}
		}
		return IntID(n)
	}
}

// Policy selects how the codec classifies frames that carry a method
// together with a malformed id (null or non-scalar).
type Policy int

const (
	// PolicyLenient treats method-plus-malformed-id frames as
	// notifications, discarding the id. This matches peers that send
	// `id: null` on notifications and is the default.
	PolicyLenient Policy = iota

	// PolicyStrict rejects method-plus-malformed-id frames as malformed.
	PolicyStrict
)

// Envelope is the closed tagged union of JSON-RPC 2.0 message variants:
// [Request], [Response], and [Notification].
type Envelope interface {
	envelope()
}

// Request is an inbound or outbound call that expects a response
// correlated by ID.
type Request struct {
	ID     RequestID
	Method string
	Params json.RawMessage
}

// Response answers a Request. Exactly one of Result and Err is set.
type Response struct {
	ID     RequestID
	Result json.RawMessage
	Err    *RPCError
}

// Notification is a one-way message; no response is ever sent.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (Request) envelope()      {}
func (Response) envelope()     {}
func (Notification) envelope() {}

// wireMsg is the decode shape for an inbound frame. ID distinguishes
// absent (nil) from present-but-null ("null").
type wireMsg struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// hasKey reports whether the top-level object carries the given key.
// Needed because json.RawMessage cannot distinguish `"result": null`
// from an absent result.
func hasKey(frame []byte, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// Decode classifies one frame into an Envelope variant.
//
// Classification (lenient policy):
//
//	method present, id a valid scalar   → Request
//	method present, id malformed        → Notification (id discarded)
//	method present, id absent           → Notification
//	method absent, id present           → Response (result XOR error)
//	anything else                       → ErrMalformedFrame
//
// Arrays are accepted by the frame reader but rejected here: batch
// requests are not part of ACP.
func Decode(frame []byte, policy Policy) (Envelope, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	var msg wireMsg
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	idPresent := hasKey(trimmed, "id")
	id := parseRequestID(msg.ID)

	if msg.Method != "" {
		switch {
		case idPresent && id.Valid():
			return Request{ID: id, Method: msg.Method, Params: msg.Params}, nil
		case idPresent && policy == PolicyStrict:
			return nil, fmt.Errorf("%w: method %q with malformed id", ErrMalformedFrame, msg.Method)
		default:
			return Notification{Method: msg.Method, Params: msg.Params}, nil
		}
	}

	if idPresent {
		if !id.Valid() {
			return nil, fmt.Errorf("%w: response with malformed id", ErrInvalidResponse)
		}
		hasResult := hasKey(trimmed, "result")
		hasError := msg.Error != nil
		if hasResult == hasError {
			return nil, fmt.Errorf("%w: id %s must carry exactly one of result/error", ErrInvalidResponse, id)
		}
		return Response{ID: id, Result: msg.Result, Err: msg.Error}, nil
	}

	return nil, fmt.Errorf("%w: neither method nor id", ErrMalformedFrame)
}

// wireOut is the encode shape for an outbound frame.
type wireOut struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Encode renders an envelope as one wire frame: compact JSON terminated
// by a single '\n'. Solidus characters are left unescaped for
// readability; receivers must accept both forms.
func Encode(e Envelope) ([]byte, error) {
	var out wireOut
	out.JSONRPC = "2.0"

	switch v := e.(type) {
	case Request:
		if !v.ID.Valid() {
			return nil, fmt.Errorf("acpeer: encode request without id")
		}
		id := v.ID
		out.ID = &id
		out.Method = v.Method
		out.Params = v.Params
	case Response:
		if !v.ID.Valid() {
			return nil, fmt.Errorf("acpeer: encode response without id")
		}
		id := v.ID
		out.ID = &id
		if v.Err != nil {
			out.Error = v.Err
		} else {
			res := v.Result
			if len(res) == 0 {
				res = json.RawMessage("null")
			}
			out.Result = res
		}
	case Notification:
		out.Method = v.Method
		out.Params = v.Params
	default:
		return nil, fmt.Errorf("acpeer: encode unknown envelope %T", e)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("acpeer: encode: %w", err)
	}
	// json.Encoder.Encode already appends exactly one newline.
	return buf.Bytes(), nil
}
