package schema

import "encoding/json"

// Marshal encodes a row for storage. Rows are plain structs serialised as
// JSON, matching the teacher's own ledger persistence (core/ledger.go
// marshals blocks the same way) rather than a binary scheme this node has
// no need to hand-roll.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a row previously written with Marshal.
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
