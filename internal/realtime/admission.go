package realtime

import (
	"context"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

// Admission is the single owner of presence registry mutation. It decides,
// per (session, participant), whether a connecting endpoint is auto-admitted
// (host, reconnecting active participant) or parked in the waiting room for
// a host decision, and it handles approve, deny, kick, leave and media
// toggles. State machine per participant:
// NotConnected -> Waiting -> Active -> (Left | Kicked | Denied).
type Admission struct {
	hub        *Hub
	store      SessionStore
	iceServers []webrtc.ICEServer
	maxSize    int
	chatReplay int
	logger     *zap.Logger
}

// NewAdmission creates the admission controller.
func NewAdmission(hub *Hub, store SessionStore, iceServers []webrtc.ICEServer, maxParticipants, chatReplay int, logger *zap.Logger) *Admission {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxParticipants <= 0 {
		maxParticipants = models.DefaultMaxParticipants
	}
	if chatReplay <= 0 {
		chatReplay = models.ChatReplayLimit
	}
	return &Admission{
		hub:        hub,
		store:      store,
		iceServers: iceServers,
		maxSize:    maxParticipants,
		chatReplay: chatReplay,
		logger:     logger,
	}
}

// HandleJoin processes a join request on a freshly connected endpoint.
func (a *Admission) HandleJoin(ctx context.Context, c *Client, p JoinPayload) {
	reg := a.hub.registry

	// Duplicate join on the same connection: repeat the earlier answer.
	if reg.IsAdmitted(c) {
		a.sendAdmitted(ctx, c)
		return
	}
	if reg.IsWaiting(c) {
		c.send(EventWaiting, nil)
		return
	}

	if p.DisplayName != "" {
		c.DisplayName = p.DisplayName
	}
	if p.AvatarURL != "" {
		c.AvatarURL = p.AvatarURL
	}

	sess, err := a.store.GetByID(ctx, c.SessionID)
	if err != nil {
		c.sendError(CodeNotFound, "session not found", "")
		c.Close()
		return
	}
	if sess.Status != models.SessionStatusLive {
		c.sendError(CodeInvalidState, "session is not live", sess.Status)
		c.Close()
		return
	}

	// Capacity gates every admission attempt, the host included: each
	// admitted participant adds a full set of mesh relay pairs.
	// Reconnects do not grow the room, so they pass.
	if reg.Count(c.SessionID) >= a.maxSize && reg.FindUser(c.SessionID, c.UserID) == nil {
		c.sendError(CodeCapacity, "session is at capacity", "")
		c.Close()
		return
	}

	if c.UserID == sess.HostID || reg.FindUser(c.SessionID, c.UserID) != nil {
		a.admit(ctx, c)
		return
	}
	a.wait(ctx, c)
}

// admit makes the endpoint Active: registry first (the capacity check and
// insert are atomic there), durable roster write next, events last.
func (a *Admission) admit(ctx context.Context, c *Client) {
	replaced, count, ok := a.hub.registry.Admit(c, a.maxSize)
	if !ok {
		c.sendError(CodeCapacity, "session is at capacity", "")
		c.Close()
		return
	}
	a.hub.roomOpened(c.SessionID)
	if replaced != nil {
		// Reconnect: the old endpoint is no longer current, so its deferred
		// leave will find nothing to remove and stays silent.
		replaced.Close()
	}

	if _, err := a.store.UpsertRosterEntry(ctx, c.SessionID, c.UserID, c.DisplayName, c.ID); err != nil {
		a.logger.Error("roster upsert failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
		if removed, _ := a.hub.registry.Remove(c); removed {
			a.hub.roomMaybeClosed(c.SessionID)
		}
		c.sendError(CodeInternal, "admission failed", "")
		c.Close()
		return
	}

	a.sendAdmitted(ctx, c)
	if replaced == nil {
		a.hub.BroadcastToOthers(c.SessionID, c.ID, EventParticipantJoined,
			PresencePayload{Occupant: a.hub.registry.Occupant(c)})
	}
	a.hub.occupancyChanged(c.SessionID, count)
	a.logger.Debug("participant admitted",
		zap.String("session_id", c.SessionID.String()),
		zap.String("user_id", c.UserID.String()),
		zap.String("endpoint_id", c.ID))
}

// sendAdmitted sends the admission snapshot to the admitted endpoint only:
// current occupants, ICE servers for mesh negotiation, and recent chat.
func (a *Admission) sendAdmitted(ctx context.Context, c *Client) {
	history, err := a.store.RecentChat(ctx, c.SessionID, a.chatReplay)
	if err != nil {
		a.logger.Warn("chat replay failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
		history = nil
	}
	c.send(EventAdmitted, AdmittedPayload{
		SessionID:    c.SessionID,
		EndpointID:   c.ID,
		Participants: a.hub.registry.Snapshot(c.SessionID, c.ID),
		ICEServers:   a.iceServers,
		ChatHistory:  history,
	})
}

// wait parks the endpoint in the waiting room and asks the room (where any
// host endpoint lives) for a decision.
func (a *Admission) wait(ctx context.Context, c *Client) {
	entry := &models.WaitingRoomEntry{
		SessionID:   c.SessionID,
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		EndpointID:  c.ID,
		AvatarURL:   c.AvatarURL,
	}
	if err := a.store.AddWaiting(ctx, entry); err != nil {
		a.logger.Error("waiting room write failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
		c.sendError(CodeInternal, "join request failed", "")
		c.Close()
		return
	}
	if replaced := a.hub.registry.AddWaiting(c); replaced != nil {
		replaced.Close()
	}
	c.send(EventWaiting, nil)
	a.hub.BroadcastToSession(c.SessionID, EventJoinRequest, entry)
}

// authorizeHost loads the session and checks the caller against its immutable
// host identity. Approve, deny and kick are strictly host capabilities.
func (a *Admission) authorizeHost(ctx context.Context, c *Client) (*models.LiveSession, bool) {
	sess, err := a.store.GetByID(ctx, c.SessionID)
	if err != nil {
		c.sendError(CodeNotFound, "session not found", "")
		return nil, false
	}
	if sess.HostID != c.UserID {
		c.sendError(CodePermission, "only the session host can do this", "")
		return nil, false
	}
	return sess, true
}

// HandleApprove promotes a waiting participant to Active.
func (a *Admission) HandleApprove(ctx context.Context, host *Client, participantID uuid.UUID) {
	if _, ok := a.authorizeHost(ctx, host); !ok {
		return
	}
	target := a.hub.registry.FindWaiting(host.SessionID, participantID)
	if target == nil {
		host.sendError(CodeNotFound, "participant is not waiting", "")
		return
	}
	if err := a.store.RemoveWaiting(ctx, host.SessionID, participantID); err != nil {
		a.logger.Error("waiting room remove failed", zap.Error(err), zap.String("session_id", host.SessionID.String()))
		host.sendError(CodeInternal, "approve failed", "")
		return
	}
	a.hub.registry.RemoveWaiting(target)
	a.admit(ctx, target)
}

// HandleDeny removes a waiting participant and tells only them.
func (a *Admission) HandleDeny(ctx context.Context, host *Client, participantID uuid.UUID) {
	if _, ok := a.authorizeHost(ctx, host); !ok {
		return
	}
	target := a.hub.registry.FindWaiting(host.SessionID, participantID)
	if target == nil {
		host.sendError(CodeNotFound, "participant is not waiting", "")
		return
	}
	if err := a.store.RemoveWaiting(ctx, host.SessionID, participantID); err != nil {
		a.logger.Error("waiting room remove failed", zap.Error(err), zap.String("session_id", host.SessionID.String()))
		host.sendError(CodeInternal, "deny failed", "")
		return
	}
	a.hub.registry.RemoveWaiting(target)
	target.send(EventJoinDenied, nil)
	target.Close()
}

// HandleKick is a host-initiated leave; the target hears "kicked" before its
// endpoint closes.
func (a *Admission) HandleKick(ctx context.Context, host *Client, participantID uuid.UUID) {
	if _, ok := a.authorizeHost(ctx, host); !ok {
		return
	}
	if participantID == host.UserID {
		host.sendError(CodeValidation, "host cannot kick itself", "")
		return
	}
	target := a.hub.registry.FindUser(host.SessionID, participantID)
	if target == nil {
		host.sendError(CodeNotFound, "participant is not in the session", "")
		return
	}
	target.send(EventKicked, nil)
	a.removeActive(ctx, target)
	target.Close()
}

// HandleLeave cleans up an endpoint, whether it left explicitly, was
// disconnected by transport failure, or dropped while waiting. Transport
// failures are implicit leaves, never surfaced as errors to the room.
func (a *Admission) HandleLeave(ctx context.Context, c *Client) {
	if a.hub.registry.IsAdmitted(c) {
		a.removeActive(ctx, c)
		return
	}
	if a.hub.registry.RemoveWaiting(c) {
		if err := a.store.RemoveWaiting(ctx, c.SessionID, c.UserID); err != nil {
			a.logger.Warn("waiting room remove failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
			return
		}
		a.hub.BroadcastToSession(c.SessionID, EventJoinRequestCancelled,
			DecisionPayload{ParticipantID: c.UserID})
	}
}

// removeActive takes an endpoint out of the registry and closes its roster
// entry. Broadcasts only after the durable write succeeds.
func (a *Admission) removeActive(ctx context.Context, c *Client) {
	removed, count := a.hub.registry.Remove(c)
	if !removed {
		return
	}
	a.hub.roomMaybeClosed(c.SessionID)
	if err := a.store.MarkRosterLeft(ctx, c.SessionID, c.UserID); err != nil {
		a.logger.Error("roster leave write failed", zap.Error(err),
			zap.String("session_id", c.SessionID.String()),
			zap.String("user_id", c.UserID.String()))
		return
	}
	a.hub.BroadcastToSession(c.SessionID, EventParticipantLeft, StateChangedPayload{
		UserID:     c.UserID,
		EndpointID: c.ID,
	})
	a.hub.occupancyChanged(c.SessionID, count)
}

// HandleToggle updates one media field on the sender's own roster entry and
// broadcasts the change. Only the owning endpoint ever writes these fields;
// rapid toggles from one client resolve last-write-wins.
func (a *Admission) HandleToggle(ctx context.Context, c *Client, field string, enabled bool) {
	if !a.hub.registry.IsAdmitted(c) {
		c.sendError(CodePermission, "not admitted to the session", "")
		return
	}
	if err := a.store.UpdateRosterToggle(ctx, c.SessionID, c.UserID, field, enabled); err != nil {
		a.logger.Warn("toggle write failed", zap.Error(err), zap.String("field", field))
		return
	}
	a.hub.registry.SetToggle(c, field, enabled)
	a.hub.BroadcastToOthers(c.SessionID, c.ID, EventStateChanged, StateChangedPayload{
		UserID:     c.UserID,
		EndpointID: c.ID,
		Field:      field,
		Enabled:    enabled,
	})
}
