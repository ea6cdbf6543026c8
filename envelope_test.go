package acpeer

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_RequestWithIntID(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"x":1}}`), PolicyLenient)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	req, ok := env.(Request)
	if !ok {
		t.Fatalf("got %T, want Request", env)
	}
	if n, isInt := req.ID.Int(); !isInt || n != 3 {
		t.Errorf("id = %s, want 3", req.ID)
	}
	if req.Method != "session/prompt" {
		t.Errorf("method = %q", req.Method)
	}
	if string(req.Params) != `{"x":1}` {
		t.Errorf("params = %s", req.Params)
	}
}

func TestDecode_RequestWithStringID(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":"req-9","method":"initialize"}`), PolicyLenient)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	req, ok := env.(Request)
	if !ok {
		t.Fatalf("got %T, want Request", env)
	}
	if req.ID != StringID("req-9") {
		t.Errorf("id = %s, want \"req-9\"", req.ID)
	}
}

func TestDecode_Notification(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}`), PolicyLenient)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	n, ok := env.(Notification)
	if !ok {
		t.Fatalf("got %T, want Notification", env)
	}
	if n.Method != "session/update" {
		t.Errorf("method = %q", n.Method)
	}
}

func TestDecode_NullIDPolicy(t *testing.T) {
	// Some peers emit `id: null` on notifications. Lenient policy treats
	// them as notifications; strict policy rejects the frame.
	frame := []byte(`{"jsonrpc":"2.0","id":null,"method":"session/cancel"}`)

	env, err := Decode(frame, PolicyLenient)
	if err != nil {
		t.Fatalf("lenient Decode: %v", err)
	}
	if _, ok := env.(Notification); !ok {
		t.Errorf("lenient: got %T, want Notification", env)
	}

	if _, err := Decode(frame, PolicyStrict); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("strict: err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecode_MalformedIDVariants(t *testing.T) {
	// Floats, objects, arrays, booleans, and empty strings are not valid
	// ids. With a method present they fall back to notifications.
	for _, id := range []string{`1.5`, `{}`, `[1]`, `true`, `""`} {
		frame := []byte(`{"jsonrpc":"2.0","id":` + id + `,"method":"m"}`)
		env, err := Decode(frame, PolicyLenient)
		if err != nil {
			t.Errorf("id=%s: %v", id, err)
			continue
		}
		if _, ok := env.(Notification); !ok {
			t.Errorf("id=%s: got %T, want Notification", id, env)
		}
	}
}

func TestDecode_ResponseResult(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":5,"result":{"ok":true}}`), PolicyLenient)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp, ok := env.(Response)
	if !ok {
		t.Fatalf("got %T, want Response", env)
	}
	if resp.Err != nil {
		t.Errorf("unexpected error: %v", resp.Err)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Errorf("result = %s", resp.Result)
	}
}

func TestDecode_ResponseNullResult(t *testing.T) {
	// `"result": null` is a success response carrying null, not an
	// invalid frame.
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":5,"result":null}`), PolicyLenient)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp, ok := env.(Response)
	if !ok {
		t.Fatalf("got %T, want Response", env)
	}
	if resp.Err != nil {
		t.Errorf("unexpected error: %v", resp.Err)
	}
}

func TestDecode_ResponseError(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":"a","error":{"code":-32601,"message":"nope","data":{"k":1}}}`), PolicyLenient)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp := env.(Response)
	if resp.Err == nil {
		t.Fatal("missing error")
	}
	if resp.Err.Code != CodeMethodNotFound {
		t.Errorf("code = %d", resp.Err.Code)
	}
	if string(resp.Err.Data) != `{"k":1}` {
		t.Errorf("data = %s", resp.Err.Data)
	}
}

func TestDecode_ResponseNeitherResultNorError(t *testing.T) {
	if _, err := Decode([]byte(`{"jsonrpc":"2.0","id":5}`), PolicyLenient); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestDecode_ResponseBothResultAndError(t *testing.T) {
	frame := []byte(`{"jsonrpc":"2.0","id":5,"result":1,"error":{"code":1,"message":"m"}}`)
	if _, err := Decode(frame, PolicyLenient); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestDecode_ResponseMalformedID(t *testing.T) {
	if _, err := Decode([]byte(`{"jsonrpc":"2.0","id":null,"result":1}`), PolicyLenient); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, frame := range []string{
		`[{"jsonrpc":"2.0","id":1,"method":"m"}]`, // batch
		`"just a string"`,
		`{}`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","params":{}}`,
	} {
		if _, err := Decode([]byte(frame), PolicyLenient); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s: err = %v, want ErrMalformedFrame", frame, err)
		}
	}
}

func TestEncode_Request(t *testing.T) {
	b, err := Encode(Request{ID: IntID(1), Method: "initialize", Params: json.RawMessage(`{"protocolVersion":1}`)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasSuffix(b, []byte("\n")) || bytes.Count(b, []byte("\n")) != 1 {
		t.Errorf("frame must end with exactly one newline: %q", b)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("frame not valid JSON: %v", err)
	}
	if string(m["id"]) != "1" || string(m["jsonrpc"]) != `"2.0"` {
		t.Errorf("frame = %s", b)
	}
}

func TestEncode_SolidusUnescaped(t *testing.T) {
	b, err := Encode(Request{ID: IntID(2), Method: "fs/read_text_file"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(b, []byte(`"fs/read_text_file"`)) {
		t.Errorf("solidus should not be escaped: %s", b)
	}
}

func TestEncode_EmptyResultBecomesNull(t *testing.T) {
	b, err := Encode(Response{ID: IntID(3)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(m["result"]) != "null" {
		t.Errorf("result = %s, want null", m["result"])
	}
}

func TestEncode_RequiresID(t *testing.T) {
	if _, err := Encode(Request{Method: "m"}); err == nil {
		t.Error("request without id must not encode")
	}
	if _, err := Encode(Response{Result: json.RawMessage("1")}); err == nil {
		t.Error("response without id must not encode")
	}
}

func TestRoundTrip(t *testing.T) {
	// Encoding an envelope and decoding the resulting frame yields an
	// equivalent envelope.
	envs := []Envelope{
		Request{ID: IntID(-7), Method: "session/new", Params: json.RawMessage(`{"cwd":"/tmp"}`)},
		Request{ID: StringID("s1"), Method: "session/prompt"},
		Response{ID: IntID(4), Result: json.RawMessage(`{"stopReason":"end_turn"}`)},
		Response{ID: StringID("e"), Err: &RPCError{Code: -32603, Message: "boom"}},
		Notification{Method: "session/update", Params: json.RawMessage(`{"n":1}`)},
	}
	for _, in := range envs {
		b, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", in, err)
		}
		out, err := Decode(b, PolicyLenient)
		if err != nil {
			t.Fatalf("Decode(%s): %v", b, err)
		}
		switch v := in.(type) {
		case Request:
			got, ok := out.(Request)
			if !ok || got.ID != v.ID || got.Method != v.Method {
				t.Errorf("round trip %#v -> %#v", in, out)
			}
		case Response:
			got, ok := out.(Response)
			if !ok || got.ID != v.ID {
				t.Errorf("round trip %#v -> %#v", in, out)
			}
			if (v.Err == nil) != (got.Err == nil) {
				t.Errorf("round trip error mismatch: %#v -> %#v", in, out)
			}
		case Notification:
			got, ok := out.(Notification)
			if !ok || got.Method != v.Method {
				t.Errorf("round trip %#v -> %#v", in, out)
			}
		}
	}
}

func TestRequestID_String(t *testing.T) {
	cases := []struct {
		id   RequestID
		want string
	}{
		{IntID(12), "12"},
		{IntID(-3), "-3"},
		{StringID("abc"), `"abc"`},
		{RequestID{}, "<none>"},
	}
	for _, c := range cases {
		if got := c.id.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestRequestID_MapKey(t *testing.T) {
	// Ids correlate calls through a map. Int and string ids with the
	// same text must not collide.
	m := map[RequestID]string{
		IntID(1):       "int",
		StringID("1"):  "str",
		StringID("ab"): "ab",
	}
	if m[IntID(1)] != "int" || m[StringID("1")] != "str" {
		t.Error("int and string ids collided")
	}
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","id":1,"method":"m"}`))
	f.Add([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	f.Add([]byte(`{"id":null,"method":"m"}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`{`))

	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := Decode(data, PolicyLenient)
		if err != nil {
			return
		}
		// Every successfully decoded envelope re-encodes.
		if _, err := Encode(env); err != nil {
			t.Fatalf("decoded envelope fails to encode: %v (from %q)", err, data)
		}
	})
}
