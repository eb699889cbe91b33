package dispatcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sockethub/dispatcher/internal/protocol"
	"github.com/sockethub/dispatcher/internal/registry"
)

// newEncKey generates the ephemeral key carried in ping broadcasts. It is an
// opaque correlation token, not a secret, but comes from a CSPRNG anyway.
func newEncKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Init runs the platform liveness protocol: it pings every remote platform
// this dispatcher owns and waits until all have responded, retrying up to the
// configured scan count. A non-nil return is advisory; the dispatcher keeps
// running and ingress rejects requests to platforms that never answered.
func (d *Dispatcher) Init(ctx context.Context) error {
	key, err := newEncKey()
	if err != nil {
		return fmt.Errorf("generate enc key: %w", err)
	}
	d.encKey = key

	bus := d.sessions.Subsystem()
	bus.On(protocol.EventPing, d.handlePingEvent)
	bus.On(protocol.EventPingResponse, d.handlePingEvent)

	remote := d.reg.Remote(d.myPlatforms)
	if len(remote) == 0 {
		d.log.Info().Msg("no remote platforms, dispatcher ready")
		return nil
	}

	now := time.Now()
	for _, p := range remote {
		p.ResetPing(now)
	}
	d.broadcastPing(ctx)

	for scan := 1; scan <= d.intervalCount; scan++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.ctx.Done():
			return d.ctx.Err()
		case <-time.After(d.intervalTime):
		}

		pending := pendingPlatforms(remote)
		if len(pending) == 0 {
			d.log.Info().Int("platforms", len(remote)).Int("scans", scan).
				Msg("all platform listeners responded, dispatcher ready")
			return nil
		}

		d.log.Debug().Strs("pending", platformNames(pending)).Int("scan", scan).
			Msg("platform listeners still pending")

		if scan < d.intervalCount {
			sent := time.Now()
			for _, p := range pending {
				p.MarkPingSent(sent)
			}
			d.broadcastPing(ctx)
		}
	}

	pending := platformNames(pendingPlatforms(remote))
	d.log.Warn().Strs("platforms", pending).
		Msg("platform listeners unresponsive, dispatcher may not function correctly")
	return fmt.Errorf("unresponsive platforms after %d scans: %s",
		d.intervalCount, strings.Join(pending, ", "))
}

// broadcastPing sends one ping frame on the subsystem bus.
func (d *Dispatcher) broadcastPing(ctx context.Context) {
	err := d.sessions.Subsystem().Send(ctx, protocol.EventPing,
		protocol.Entity{Platform: "dispatcher"},
		protocol.PingObject{Timestamp: time.Now().UnixMilli(), EncKey: d.encKey})
	if err != nil {
		d.log.Error().Err(err).Msg("failed to broadcast ping")
	}
}

// handlePingEvent stamps the sender's last_received timestamp. Pings and
// ping-responses are treated alike. Unknown platforms are ignored: they may
// belong to another dispatcher instance sharing the queue.
func (d *Dispatcher) handlePingEvent(event *protocol.SubsystemEvent) {
	name := event.Actor.Platform
	p, ok := d.reg.Platform(name)
	if !ok || p.Local {
		d.log.Debug().Str("platform", name).Str("verb", event.Verb).
			Msg("ping from unknown platform, ignoring")
		return
	}
	p.MarkPingReceived(time.Now())
	d.log.Debug().Str("platform", name).Str("verb", event.Verb).Msg("platform listener alive")
}

func pendingPlatforms(remote []*registry.Platform) []*registry.Platform {
	var pending []*registry.Platform
	for _, p := range remote {
		if !p.Responsive() {
			pending = append(pending, p)
		}
	}
	return pending
}

func platformNames(platforms []*registry.Platform) []string {
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = p.Name
	}
	return names
}
