package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

// maxChatTextLen bounds a single message body.
const maxChatTextLen = 2000

// Chat appends messages to the session's bounded transcript and relays them
// live to the rest of the room. The transcript write happens first; a failed
// write means nobody hears the message.
type Chat struct {
	hub          *Hub
	store        SessionStore
	historyLimit int
	logger       *zap.Logger
}

// NewChat creates the chat sub-channel.
func NewChat(hub *Hub, store SessionStore, historyLimit int, logger *zap.Logger) *Chat {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = models.ChatHistoryLimit
	}
	return &Chat{hub: hub, store: store, historyLimit: historyLimit, logger: logger}
}

// Send appends one message (trimming the transcript to its bound, oldest
// first) and broadcasts it to every other endpoint in the room; the sender
// already has it locally. The display name is denormalized at send time.
func (ch *Chat) Send(ctx context.Context, c *Client, text string) {
	if !ch.hub.registry.IsAdmitted(c) {
		c.sendError(CodePermission, "not admitted to the session", "")
		return
	}
	if text == "" || len(text) > maxChatTextLen {
		c.sendError(CodeValidation, "message must be 1-2000 characters", "")
		return
	}
	msg := models.ChatMessage{
		SenderID:    c.UserID,
		DisplayName: c.DisplayName,
		Text:        text,
		SentAt:      time.Now().UTC(),
	}
	if err := ch.store.AppendChat(ctx, c.SessionID, msg, ch.historyLimit); err != nil {
		ch.logger.Error("chat append failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
		c.sendError(CodeInternal, "message not delivered", "")
		return
	}
	ch.hub.BroadcastToOthers(c.SessionID, c.ID, EventChatMessage, msg)
}
