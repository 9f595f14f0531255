// pkg/wire/decode.go
package wire

import (
	"encoding/json"
	"errors"
)

// ErrFrameType is returned when a frame's type tag does not match the shape
// it was decoded against.
var ErrFrameType = errors.New("frame type mismatch")

// Values below this threshold in a numeric optional mean "not supplied" on
// the wire (the canonical sentinel is -1).
const sentinelAbsent = -0.5

// DecodeType reads the envelope tag only. The caller picks the shape to
// validate against based on the tag.
func DecodeType(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// DecodeQuery decodes and validates a query frame.
func DecodeQuery(raw []byte) (Query, error) {
	var q Query
	if err := json.Unmarshal(raw, &q); err != nil {
		return Query{}, err
	}
	if q.Type != TypeQuery {
		return Query{}, ErrFrameType
	}
	return q, nil
}

// DecodeCommand decodes and validates a command frame. Sentinel-encoded
// numeric optionals are converted to absent here so they never travel
// further into the program.
func DecodeCommand(raw []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return Command{}, err
	}
	if c.Type != TypeCommand {
		return Command{}, ErrFrameType
	}
	c.Args.Speed = optional(c.Args.Speed)
	c.Args.AccelUp = optional(c.Args.AccelUp)
	c.Args.AccelDown = optional(c.Args.AccelDown)
	return c, nil
}

// DecodeResponse decodes and validates a response frame (orchestrator side).
func DecodeResponse(raw []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, err
	}
	if r.Type != TypeResponse {
		return Response{}, ErrFrameType
	}
	return r, nil
}

// DecodeEvent decodes and validates an event frame (orchestrator side).
func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}
	if e.Type != TypeEvent {
		return Event{}, ErrFrameType
	}
	return e, nil
}

// Encode marshals an outgoing frame.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}

func optional(v *float64) *float64 {
	if v != nil && *v < sentinelAbsent {
		return nil
	}
	return v
}
