// Package protocol defines the wire types exchanged between clients, the
// dispatcher, and platform listeners, plus the queue channel naming scheme.
package protocol

import "encoding/json"

// DisconnectSentinel is pushed onto a session's outgoing channel during
// teardown. The egress pump consumes it silently and exits; it is never
// forwarded to the client. Matched byte-for-byte.
const DisconnectSentinel = `{"platform":"dispatcher","verb":"disconnect","status":true}`

// Frame is an outbound message to the client: a confirm, a message carrying
// response data, or an error. The identifying fields (rid, platform, verb)
// are always serialized; one the dispatcher could not determine (e.g. after a
// parse failure) is null, never omitted. Payload fields are omitted when
// absent.
type Frame struct {
	RID      any    `json:"rid"`
	Platform any    `json:"platform"`
	Verb     string `json:"verb"`
	Status   bool   `json:"status"`
	Message  string `json:"message,omitempty"`
	Object   any    `json:"object,omitempty"`
	Target   []any  `json:"target,omitempty"`
}

// NewConfirm builds the confirm frame acknowledging a validated request.
func NewConfirm(rid any) *Frame {
	return &Frame{RID: rid, Verb: "confirm", Status: true}
}

// NewMessage builds a success frame carrying response data for a request.
func NewMessage(rid any, platform, verb string, object any, target []any) *Frame {
	return &Frame{
		RID:      rid,
		Platform: platformField(platform),
		Verb:     verb,
		Status:   true,
		Object:   object,
		Target:   target,
	}
}

// NewError builds an error frame. Identifying fields are filled in as far as
// they were determined before the failure; validation-chain errors use the
// verb "confirm".
func NewError(rid any, platform, verb, message string) *Frame {
	return &Frame{
		RID:      rid,
		Platform: platformField(platform),
		Verb:     verb,
		Status:   false,
		Message:  message,
	}
}

func platformField(name string) any {
	if name == "" {
		return nil
	}
	return name
}

// Marshal serializes the frame for the wire.
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}
