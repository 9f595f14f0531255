// Package wire defines the JSON frames exchanged between the world bridge
// and the orchestrator: queries, commands, responses and events. Frames are
// routed on the type tag before the full shape is decoded.
package wire

import "simbridge/pkg/core"

// Frame type tags.
const (
	TypeQuery    = "query"
	TypeCommand  = "command"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Query names.
const (
	QueryGetPosition = "get.position"
)

// Command names.
const (
	CommandSpeedSet = "speed.set"
	CommandSetRoute = "set.route"
)

// Event names.
const (
	EventCommandAck    = "command.ack"
	EventCommandError  = "command.error"
	EventRouteComplete = "route.complete"
)

// Error and detail codes carried in responses and events.
const (
	ErrNotFound                    = "not_found"
	DetailInvalidTarget            = "invalid_target"
	DetailInvalidTargetOrWaypoints = "invalid_target_or_waypoints"
)

// Envelope carries only the type tag, read first to pick the frame shape.
type Envelope struct {
	Type string `json:"type"`
}

// Query is a read-only request addressed to one object.
type Query struct {
	Type     string `json:"type"`
	Query    string `json:"query"`
	TargetID string `json:"target_id"`
	MsgID    string `json:"msg_id"`
}

// CommandArgs is the variant-specific argument bundle of a Command. After
// DecodeCommand the numeric optionals are explicit: nil means the field was
// omitted or carried the wire's -1 "not supplied" sentinel.
type CommandArgs struct {
	Waypoints []core.Vec3 `json:"waypoints,omitempty"`
	Speed     *float64    `json:"speed,omitempty"`
	AccelUp   *float64    `json:"accel_up,omitempty"`
	AccelDown *float64    `json:"accel_down,omitempty"`
}

// Command is a mutating request addressed to one object.
type Command struct {
	Type     string      `json:"type"`
	Command  string      `json:"command"`
	TargetID string      `json:"target_id"`
	MsgID    string      `json:"msg_id"`
	Args     CommandArgs `json:"args"`
}

// Response answers exactly one Query, correlated by MsgID.
type Response struct {
	Type     string     `json:"type"`
	Query    string     `json:"query"`
	TargetID string     `json:"target_id"`
	MsgID    string     `json:"msg_id"`
	TSim     float64    `json:"t_sim"`
	Result   *core.Vec3 `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Event is an unsolicited notification, optionally correlated to a prior
// Command via RefMsgID.
type Event struct {
	Type     string  `json:"type"`
	Event    string  `json:"event"`
	TargetID string  `json:"target_id"`
	RefMsgID string  `json:"ref_msg_id,omitempty"`
	Detail   string  `json:"detail,omitempty"`
	TSim     float64 `json:"t_sim"`
}

// NewPositionResponse answers a get.position query, echoing its msg_id.
func NewPositionResponse(q Query, pos core.Vec3, tSim float64) Response {
	return Response{
		Type:     TypeResponse,
		Query:    q.Query,
		TargetID: q.TargetID,
		MsgID:    q.MsgID,
		TSim:     tSim,
		Result:   &pos,
	}
}

// NewErrorResponse answers a query with an error code and no result.
func NewErrorResponse(q Query, code string, tSim float64) Response {
	return Response{
		Type:     TypeResponse,
		Query:    q.Query,
		TargetID: q.TargetID,
		MsgID:    q.MsgID,
		TSim:     tSim,
		Error:    code,
	}
}

// NewCommandAck acknowledges a command; detail names the acknowledged
// command and ref_msg_id echoes the command's msg_id.
func NewCommandAck(c Command, tSim float64) Event {
	return Event{
		Type:     TypeEvent,
		Event:    EventCommandAck,
		TargetID: c.TargetID,
		RefMsgID: c.MsgID,
		Detail:   c.Command,
		TSim:     tSim,
	}
}

// NewCommandError rejects a command with a detail code.
func NewCommandError(c Command, detail string, tSim float64) Event {
	return Event{
		Type:     TypeEvent,
		Event:    EventCommandError,
		TargetID: c.TargetID,
		RefMsgID: c.MsgID,
		Detail:   detail,
		TSim:     tSim,
	}
}

// NewRouteComplete signals that targetID finished its route. Completion is
// correlated by target, not by ref_msg_id.
func NewRouteComplete(targetID string, tSim float64) Event {
	return Event{
		Type:     TypeEvent,
		Event:    EventRouteComplete,
		TargetID: targetID,
		TSim:     tSim,
	}
}
