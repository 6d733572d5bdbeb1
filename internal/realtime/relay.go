package realtime

// Relay forwards peer-negotiation messages (offer, answer, ice-candidate)
// from a sender to one explicitly named target endpoint. It keeps no state,
// never inspects the payload, and never persists anything. A missing target
// means the peer already disconnected; the message is dropped silently and
// the sender recovers through its own peer-connection timeouts, not through
// an error from here.
type Relay struct {
	hub *Hub
}

// NewRelay creates the signaling relay.
func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

// Forward relays one negotiation message verbatim, annotated with the
// sender's identity and display name so the target knows which peer
// connection it belongs to. Only admitted endpoints may relay; targets come
// from the admission snapshot or participant-joined events.
func (r *Relay) Forward(c *Client, event string, p SignalPayload) {
	if !r.hub.registry.IsAdmitted(c) {
		return
	}
	if p.TargetEndpoint == "" || p.TargetEndpoint == c.ID {
		return
	}
	_ = r.hub.SendToEndpoint(c.SessionID, p.TargetEndpoint, event, SignalEvent{
		FromEndpoint: c.ID,
		SenderID:     c.UserID,
		SenderName:   c.DisplayName,
		Payload:      p.Payload,
	})
}
