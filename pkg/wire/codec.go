package wire

import (
	"bytes"
	"encoding/gob"
)

// Encode gob-encodes a RaftMessage, the same encoding pkg/transport's gRPC
// codec applies to the envelope (that codec encodes directly and does not
// call Encode). Plain gob is used rather than hand-generated protobuf stubs
// for this internal envelope; see DESIGN.md for why.
func Encode(msg *RaftMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*RaftMessage, error) {
	var msg RaftMessage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
