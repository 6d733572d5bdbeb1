package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
// Values are stored in the database and sent over the wire; keep them stable.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusEnded     SessionStatus = "ended"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// CanTransition reports whether the status machine allows moving from s to next.
// Allowed: scheduled->live, live->ended, scheduled->cancelled. Nothing leaves
// ended or cancelled.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionStatusScheduled:
		return next == SessionStatusLive || next == SessionStatusCancelled
	case SessionStatusLive:
		return next == SessionStatusEnded
	default:
		return false
	}
}

// LiveSession is one scheduled/live/ended interactive room tied to a course.
type LiveSession struct {
	ID              uuid.UUID     `json:"id"`
	CourseID        uuid.UUID     `json:"course_id"`
	HostID          uuid.UUID     `json:"host_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	ScheduledAt     time.Time     `json:"scheduled_at"`
	Status          SessionStatus `json:"status"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationMinutes int           `json:"duration_minutes"`
	PeakParticipants int          `json:"peak_participants"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// RosterEntry is the durable attendance record of one participant in one
// session. An entry is created on first admission and never deleted; leaving
// stamps LeftAt and a re-join reuses the same entry.
type RosterEntry struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	UserID      uuid.UUID  `json:"user_id"`
	DisplayName string     `json:"display_name"`
	EndpointID  *string    `json:"endpoint_id,omitempty"` // nil while not connected
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	VideoOn     bool       `json:"video_on"`
	AudioOn     bool       `json:"audio_on"`
	ScreenShare bool       `json:"screen_share"`
	HandRaised  bool       `json:"hand_raised"`
}

// WaitingRoomEntry is one participant pending host admission to a live session.
type WaitingRoomEntry struct {
	SessionID   uuid.UUID `json:"session_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	EndpointID  string    `json:"endpoint_id"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ChatMessage is one immutable entry in a session's bounded transcript.
// DisplayName is denormalized at send time and never re-resolved.
type ChatMessage struct {
	SenderID    uuid.UUID `json:"sender_id"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

// Chat transcript bounds. The transcript keeps the most recent
// ChatHistoryLimit messages; admission replays the most recent
// ChatReplayLimit of those.
const (
	ChatHistoryLimit = 500
	ChatReplayLimit  = 50
)

// DefaultMaxParticipants caps room occupancy. Every admitted participant adds
// a full set of peer connections in the mesh, so the cap applies to the host too.
const DefaultMaxParticipants = 50
