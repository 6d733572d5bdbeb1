package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

// Envelope is the WebSocket message frame. Data decodes into exactly one of
// the payload structs below, selected by Event; unknown events are rejected
// rather than dispatched by name.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound events (client -> server).
const (
	EventJoin             = "join"
	EventLeave            = "leave"
	EventApproveRequest   = "approve-request"
	EventDenyRequest      = "deny-request"
	EventKickParticipant  = "kick-participant"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventToggleVideo      = "toggle-video"
	EventToggleAudio      = "toggle-audio"
	EventScreenShareStart = "screen-share-start"
	EventScreenShareStop  = "screen-share-stop"
	EventRaiseHand        = "raise-hand"
	EventChatMessage      = "chat-message"
)

// Outbound events (server -> client).
const (
	EventWaiting              = "waiting"
	EventAdmitted             = "admitted"
	EventJoinRequest          = "join-request"
	EventJoinRequestCancelled = "join-request-cancelled"
	EventJoinDenied           = "join-denied"
	EventKicked               = "kicked"
	EventParticipantJoined    = "participant-joined"
	EventParticipantLeft      = "participant-left"
	EventStateChanged         = "state-changed"
	EventError                = "error"
	// EventSessionLive and EventSessionEnded are fanned out by the lifecycle
	// controller; session-ended obliges clients to tear down peer connections.
	EventSessionLive  = "session-live"
	EventSessionEnded = "session-ended"
)

// JoinPayload requests admission to the session this connection is scoped to.
type JoinPayload struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// DecisionPayload names the participant an approve/deny/kick applies to.
type DecisionPayload struct {
	ParticipantID uuid.UUID `json:"participant_id"`
}

// SignalPayload carries one peer-negotiation message for a single named
// target endpoint. The payload is opaque to the server.
type SignalPayload struct {
	TargetEndpoint string          `json:"target_endpoint"`
	Payload        json.RawMessage `json:"payload"`
}

// TogglePayload flips one media state on the sender's own roster entry.
type TogglePayload struct {
	Enabled bool `json:"enabled"`
}

// ChatPayload is one chat message body.
type ChatPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is sent for rejected operations. Status is present for
// lifecycle conflicts so the client can resync.
type ErrorPayload struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Status  models.SessionStatus `json:"status,omitempty"`
}

// Error codes used in ErrorPayload.
const (
	CodeValidation   = "validation"
	CodePermission   = "permission"
	CodeInvalidState = "invalid-state"
	CodeCapacity     = "capacity"
	CodeNotFound     = "not-found"
	CodeUnknownEvent = "unknown-event"
	CodeInternal     = "internal"
)

// AdmittedPayload is sent to a newly admitted endpoint only: who is already
// here, how to reach the ICE infrastructure, and recent chat context.
type AdmittedPayload struct {
	SessionID    uuid.UUID            `json:"session_id"`
	EndpointID   string               `json:"endpoint_id"`
	Participants []Occupant           `json:"participants"`
	ICEServers   []webrtc.ICEServer   `json:"ice_servers,omitempty"`
	ChatHistory  []models.ChatMessage `json:"chat_history"`
}

// PresencePayload announces one participant joining or leaving; the endpoint
// reference is what peers use for relay targeting.
type PresencePayload struct {
	Occupant
}

// SignalEvent is a relayed negotiation message, annotated with the sender so
// the target knows which peer connection it belongs to.
type SignalEvent struct {
	FromEndpoint string          `json:"from_endpoint"`
	SenderID     uuid.UUID       `json:"sender_id"`
	SenderName   string          `json:"sender_name"`
	Payload      json.RawMessage `json:"payload"`
}

// StateChangedPayload broadcasts one media toggle change.
type StateChangedPayload struct {
	UserID     uuid.UUID `json:"user_id"`
	EndpointID string    `json:"endpoint_id"`
	Field      string    `json:"field"` // video, audio, screen, hand
	Enabled    bool      `json:"enabled"`
}
