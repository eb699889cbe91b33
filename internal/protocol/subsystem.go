package protocol

import "encoding/json"

// Subsystem event verbs (dispatcher <-> listener control plane).
const (
	EventPing         = "ping"
	EventPingResponse = "ping-response"
	EventCleanup      = "cleanup"
)

// Entity identifies the sender or receiver of a subsystem event.
type Entity struct {
	Platform string `json:"platform"`
}

// SubsystemEvent is the envelope for side-band control messages.
type SubsystemEvent struct {
	Verb   string          `json:"verb"`
	Actor  Entity          `json:"actor"`
	Object json.RawMessage `json:"object,omitempty"`
}

// NewSubsystemEvent builds an event with the given verb and object payload.
func NewSubsystemEvent(verb string, actor Entity, object any) (*SubsystemEvent, error) {
	data, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return &SubsystemEvent{Verb: verb, Actor: actor, Object: data}, nil
}

// ParseObject unmarshals the event's object payload into target.
func (e *SubsystemEvent) ParseObject(target any) error {
	return json.Unmarshal(e.Object, target)
}

// PingObject is carried by ping broadcasts.
type PingObject struct {
	Timestamp int64  `json:"timestamp"`
	EncKey    string `json:"encKey"`
}

// CleanupObject is carried by cleanup broadcasts when sessions close.
type CleanupObject struct {
	SIDs []int64 `json:"sids"`
}
