package protocol

import "fmt"

// Queue channel naming. The sockethub id scopes every channel so multiple
// deployments can share one queue instance.

// OutgoingChannel is the per-session channel the egress pump consumes.
// Producers are local verb handlers and remote platform listeners.
func OutgoingChannel(sockethubID string, sessionID int64) string {
	return fmt.Sprintf("sockethub:%s:dispatcher:outgoing:%d", sockethubID, sessionID)
}

// IncomingChannel is the per-platform channel remote listeners consume.
func IncomingChannel(sockethubID, platform string) string {
	return fmt.Sprintf("sockethub:%s:listener:%s:incoming", sockethubID, platform)
}

// SubsystemChannel is the side-band pub/sub channel carrying ping,
// ping-response and cleanup events between dispatchers and listeners.
func SubsystemChannel(sockethubID string) string {
	return fmt.Sprintf("sockethub:%s:subsystem", sockethubID)
}
