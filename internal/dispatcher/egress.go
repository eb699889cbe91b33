package dispatcher

import (
	"context"
	"errors"

	"github.com/sockethub/dispatcher/internal/protocol"
)

// runEgress is the per-session egress pump: a blocking consumer on the
// session's outgoing channel that forwards payloads verbatim to the client.
// The disconnect sentinel is consumed silently and ends the pump. Queue
// errors end the pump too; the connection is considered lost and the pump is
// not restarted.
func (d *Dispatcher) runEgress(c *Connection) {
	channel := protocol.OutgoingChannel(d.sockethubID, c.sid)

	for {
		payload, err := d.q.BlockingPop(d.ctx, channel)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.log.Debug().Msg("egress pump cancelled")
			} else {
				c.log.Error().Err(err).Msg("egress pump queue error")
			}
			return
		}

		if payload == protocol.DisconnectSentinel {
			c.log.Debug().Msg("egress pump received disconnect sentinel")
			return
		}

		if err := c.conn.WriteText([]byte(payload)); err != nil {
			c.log.Error().Err(err).Msg("egress write failed")
			return
		}
	}
}
