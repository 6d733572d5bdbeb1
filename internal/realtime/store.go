package realtime

import (
	"context"

	"github.com/google/uuid"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

// SessionStore is the durable session record surface the room handlers need.
// Implemented by the live session repository. Every handler performs its
// durable write before broadcasting the corresponding event; a failed write
// short-circuits the broadcast.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)

	UpsertRosterEntry(ctx context.Context, sessionID, userID uuid.UUID, displayName, endpointID string) (*models.RosterEntry, error)
	MarkRosterLeft(ctx context.Context, sessionID, userID uuid.UUID) error
	UpdateRosterToggle(ctx context.Context, sessionID, userID uuid.UUID, field string, value bool) error

	AddWaiting(ctx context.Context, e *models.WaitingRoomEntry) error
	RemoveWaiting(ctx context.Context, sessionID, userID uuid.UUID) error

	AppendChat(ctx context.Context, sessionID uuid.UUID, msg models.ChatMessage, limit int) error
	RecentChat(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
}
