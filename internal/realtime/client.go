package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client is one connected transport endpoint, scoped to a single session
// room. Its ID is the endpoint reference peers use for relay targeting.
type Client struct {
	ID          string
	SessionID   uuid.UUID
	UserID      uuid.UUID
	DisplayName string
	Role        string
	AvatarURL   string

	// Media state mirrored into presence snapshots; guarded by the registry
	// mutex, written only via Registry.SetToggle / Admit.
	videoOn     bool
	audioOn     bool
	screenShare bool
	handRaised  bool

	hub       *Hub
	admission *Admission
	relay     *Relay
	chat      *Chat
	conn      *websocket.Conn
	out       chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func (c *Client) occupantLocked() Occupant {
	return Occupant{
		UserID:      c.UserID,
		EndpointID:  c.ID,
		DisplayName: c.DisplayName,
		VideoOn:     c.videoOn,
		AudioOn:     c.audioOn,
		ScreenShare: c.screenShare,
		HandRaised:  c.handRaised,
	}
}

// deliver queues a pre-encoded envelope. Slow consumers lose messages rather
// than stall the room.
func (c *Client) deliver(env Envelope) bool {
	select {
	case c.out <- env:
		return true
	default:
		return false
	}
}

// send marshals payload and queues the event for this endpoint.
func (c *Client) send(event string, payload interface{}) bool {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		data = b
	}
	return c.deliver(Envelope{Event: event, Data: data})
}

func (c *Client) sendError(code, message string, status models.SessionStatus) {
	c.send(EventError, ErrorPayload{Code: code, Message: message, Status: status})
}

// Close shuts the connection down after queued messages drain, so a final
// event (kicked, join-denied) still reaches the client.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// TokenValidator resolves a signaling token to the caller's identity.
type TokenValidator func(token string) (userID uuid.UUID, displayName, role string, err error)

// ServeWs handles the WebSocket upgrade and runs the client loop. The
// connection is scoped to one session room; admission is decided when the
// client sends its join message.
func ServeWs(hub *Hub, admission *Admission, relay *Relay, chat *Chat, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		userID, displayName, role, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			UserID:      userID,
			DisplayName: displayName,
			Role:        role,
			hub:         hub,
			admission:   admission,
			relay:       relay,
			chat:        chat,
			conn:        conn,
			out:         make(chan Envelope, 256),
			done:        make(chan struct{}),
			logger:      logger,
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// Transport loss is an implicit leave; the admission controller
		// decides whether that means roster cleanup or waiting-room removal.
		c.admission.HandleLeave(context.Background(), c)
		c.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	ctx := context.Background()
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if !c.dispatch(ctx, env) {
			return
		}
	}
}

// dispatch decodes the envelope into its typed variant and routes it.
// Returns false when the client asked to leave.
func (c *Client) dispatch(ctx context.Context, env Envelope) bool {
	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.admission.HandleJoin(ctx, c, p)

	case EventLeave:
		return false

	case EventApproveRequest:
		var p DecisionPayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.admission.HandleApprove(ctx, c, p.ParticipantID)

	case EventDenyRequest:
		var p DecisionPayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.admission.HandleDeny(ctx, c, p.ParticipantID)

	case EventKickParticipant:
		var p DecisionPayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.admission.HandleKick(ctx, c, p.ParticipantID)

	case EventOffer, EventAnswer, EventICECandidate:
		var p SignalPayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.relay.Forward(c, env.Event, p)

	case EventToggleVideo:
		var p TogglePayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.admission.HandleToggle(ctx, c, "video", p.Enabled)

	case EventToggleAudio:
		var p TogglePayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.admission.HandleToggle(ctx, c, "audio", p.Enabled)

	case EventScreenShareStart:
		c.admission.HandleToggle(ctx, c, "screen", true)

	case EventScreenShareStop:
		c.admission.HandleToggle(ctx, c, "screen", false)

	case EventRaiseHand:
		var p TogglePayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.admission.HandleToggle(ctx, c, "hand", p.Enabled)

	case EventChatMessage:
		var p ChatPayload
		if !c.decode(env.Data, &p) {
			return true
		}
		c.chat.Send(ctx, c, p.Text)

	default:
		c.sendError(CodeUnknownEvent, "unknown event: "+env.Event, "")
	}
	return true
}

func (c *Client) decode(data json.RawMessage, v interface{}) bool {
	if len(data) == 0 {
		c.sendError(CodeValidation, "missing payload", "")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.sendError(CodeValidation, "malformed payload", "")
		return false
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Drain anything already queued so final events get out.
			for {
				select {
				case msg := <-c.out:
					_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
