// Package jsonscan provides cheap top-level extraction from raw JSON
// frames. No validation, no transformation; malformed input yields zero
// values.
//
// Exported within internal/ — visible to sibling packages but not to
// library consumers.
package jsonscan

import "encoding/json"

// Method extracts the top-level "method" field from a frame. Returns ""
// for responses, malformed frames, and non-string method values.
func Method(frame []byte) string {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return ""
	}
	return probe.Method
}

// Field extracts a top-level string field from a frame.
func Field(frame []byte, key string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(m[key], &s); err != nil {
		return ""
	}
	return s
}
