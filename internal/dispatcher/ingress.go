package dispatcher

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sockethub/dispatcher/internal/protocol"
	"github.com/sockethub/dispatcher/internal/registry"
)

// Validation chain error messages. Clients match on these strings.
const (
	msgInvalidJSON       = "invalid JSON received"
	msgNoRID             = "no rid (request ID) specified"
	msgNoPlatform        = "no platform specified"
	msgNoVerb            = "no verb (action) specified"
	msgSessionIDReserved = "cannot use name sessionId, reserved property"
	msgNotRegistered     = "session not registered, cannot process verb"
)

// process runs the active-phase ingress pipeline for one inbound frame.
func (c *Connection) process(f inboundFrame) {
	if c.d.inShutdown.Load() {
		c.log.Warn().Msg("dispatcher in shutdown, dropping inbound message")
		return
	}

	if f.binary {
		// Placeholder contract: binary payloads are echoed unchanged.
		if err := c.conn.WriteBinary(f.data); err != nil {
			c.log.Error().Err(err).Msg("binary echo failed")
		}
		return
	}

	batch, err := protocol.ParseBatch(f.data)
	if err != nil {
		c.log.Debug().Err(err).Msg("unparseable frame")
		c.sendFrame(protocol.NewError(nil, "", "confirm", msgInvalidJSON))
		return
	}

	for _, entry := range batch {
		c.handleRequest(entry)
	}
}

// handleRequest runs the validation chain on one batch entry and, on
// success, confirms and dispatches it. The chain short-circuits: the first
// failing rule emits its error frame and suppresses everything after it.
func (c *Connection) handleRequest(entry any) {
	req, _ := entry.(map[string]any)

	rid, ok := protocol.RequestID(req)
	if !ok {
		c.sendFrame(protocol.NewError(nil, "", "confirm", msgNoRID))
		return
	}

	platformName, ok := protocol.StringField(req, "platform")
	if !ok {
		c.sendFrame(protocol.NewError(rid, "", "confirm", msgNoPlatform))
		return
	}

	verbName, ok := protocol.StringField(req, "verb")
	if !ok {
		c.sendFrame(protocol.NewError(rid, platformName, "confirm", msgNoVerb))
		return
	}

	// A remote platform whose listener never answered a ping is as good as
	// unknown: requests to it would vanish into an unconsumed channel.
	platform, known := c.d.reg.Platform(platformName)
	if !known || !platform.Seen() {
		c.sendFrame(protocol.NewError(rid, platformName, "confirm",
			fmt.Sprintf("unknown platform received: %s", platformName)))
		return
	}

	if platformName != "dispatcher" && !c.d.loaded[platformName] {
		c.sendFrame(protocol.NewError(rid, platformName, "confirm",
			fmt.Sprintf("platform '%s' not loaded", platformName)))
		return
	}

	verb, ok := platform.Verb(verbName)
	if !ok {
		c.sendFrame(protocol.NewError(rid, platformName, "confirm",
			fmt.Sprintf("unknown verb received: %s", verbName)))
		return
	}

	if _, exists := req["sessionId"]; exists {
		c.sendFrame(protocol.NewError(rid, platformName, "confirm", msgSessionIDReserved))
		return
	}

	if !c.sess.IsRegistered() && verbName != "register" {
		c.sendFrame(protocol.NewError(rid, platformName, "confirm", msgNotRegistered))
		return
	}

	target := protocol.NormalizeTarget(req)
	protocol.NormalizeObject(req)

	if err := verb.Validate(req); err != nil {
		frame := protocol.NewError(rid, platformName, verbName,
			"unable to validate json against schema: "+err.Error())
		frame.Target = target
		c.sendFrame(frame)
		return
	}

	req["sessionId"] = strconv.FormatInt(c.sid, 10)
	c.sendFrame(protocol.NewConfirm(rid))
	c.dispatch(req, rid, platformName, verbName, target, verb)
}

// dispatch routes a validated request to its verb's local handler, or
// serializes it onto the platform listener's incoming channel.
func (c *Connection) dispatch(req map[string]any, rid any, platformName, verbName string, target []any, verb *registry.Verb) {
	if verb.Handler != nil {
		verb.Handler(req, c.sess, c.responder(rid, platformName, verbName, target))
		return
	}

	data, err := json.Marshal(req)
	if err != nil {
		c.log.Error().Err(err).Str("platform", platformName).Str("verb", verbName).
			Msg("failed to serialize request for listener")
		return
	}

	channel := protocol.IncomingChannel(c.d.sockethubID, platformName)
	if err := c.d.q.Push(c.d.ctx, channel, string(data)); err != nil {
		// The client already holds a confirm; the request is dropped.
		c.log.Error().Err(err).Str("channel", channel).Msg("listener channel push failed")
	}
}

// responder builds the (err, data) pair handed to local handlers, echoing
// the request's identifying fields into whichever frame results.
func (c *Connection) responder(rid any, platformName, verbName string, target []any) registry.ResponseFunc {
	return func(err error, data any) {
		var frame *protocol.Frame
		if err != nil {
			frame = protocol.NewError(rid, platformName, verbName, err.Error())
			frame.Target = target
		} else {
			frame = protocol.NewMessage(rid, platformName, verbName, data, target)
		}
		if sendErr := c.sess.Send(frame); sendErr != nil {
			c.log.Error().Err(sendErr).Msg("response send failed")
		}
	}
}

// sendFrame pushes a frame onto the session's outgoing channel.
func (c *Connection) sendFrame(frame *protocol.Frame) {
	if err := c.sess.Send(frame); err != nil {
		c.log.Error().Err(err).Msg("frame send failed")
	}
}
