package livesession

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

// RoleAdmin bypasses the host capability check on lifecycle operations.
const RoleAdmin = "admin"

// Store is the persistence surface the lifecycle controller needs.
type Store interface {
	Create(ctx context.Context, s *models.LiveSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.LiveSession, error)
	ListByHost(ctx context.Context, hostID uuid.UUID) ([]models.LiveSession, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, title, description *string, scheduledAt *time.Time) error
	MarkLive(ctx context.Context, id uuid.UUID) (time.Time, error)
	MarkEnded(ctx context.Context, id uuid.UUID) (time.Time, int, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	CloseRosterForSession(ctx context.Context, sessionID uuid.UUID) error
}

// Rooms is the realtime hub surface the lifecycle controller uses to fan out
// status transitions to connected clients.
type Rooms interface {
	BroadcastToSession(sessionID uuid.UUID, event string, payload interface{})
	CloseSession(sessionID uuid.UUID)
	Count(sessionID uuid.UUID) int
}

// Notifier pushes course-scoped events to the notification service, which
// fans them out to enrollees.
type Notifier interface {
	NotifyCourse(ctx context.Context, courseID, sessionID uuid.UUID, event string) error
}

// Service drives the session status state machine. It exclusively owns
// status, started_at, ended_at and duration.
type Service struct {
	store    Store
	rooms    Rooms
	notifier Notifier
	maxSize  int
	logger   *zap.Logger
}

// NewService creates the lifecycle controller.
func NewService(store Store, rooms Rooms, notifier Notifier, maxParticipants int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxParticipants <= 0 {
		maxParticipants = models.DefaultMaxParticipants
	}
	return &Service{store: store, rooms: rooms, notifier: notifier, maxSize: maxParticipants, logger: logger}
}

// CreateInput carries the fields for scheduling a session.
type CreateInput struct {
	CourseID    uuid.UUID
	HostID      uuid.UUID // zero value: the caller becomes host
	Title       string
	Description string
	ScheduledAt time.Time
}

// Create schedules a new session. The host identity is immutable afterwards.
func (s *Service) Create(ctx context.Context, callerID uuid.UUID, in CreateInput) (*models.LiveSession, error) {
	if in.Title == "" {
		return nil, &models.ValidationError{Msg: "title is required"}
	}
	if in.CourseID == uuid.Nil {
		return nil, &models.ValidationError{Msg: "course_id is required"}
	}
	if !in.ScheduledAt.After(time.Now()) {
		return nil, &models.ValidationError{Msg: "scheduled_at must be in the future"}
	}
	hostID := in.HostID
	if hostID == uuid.Nil {
		hostID = callerID
	}
	sess := &models.LiveSession{
		CourseID:    in.CourseID,
		HostID:      hostID,
		Title:       in.Title,
		Description: in.Description,
		ScheduledAt: in.ScheduledAt,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.notify(ctx, sess, "session_scheduled")
	return sess, nil
}

// Start transitions scheduled -> live and announces it to the course and to
// the signaling room. The broadcast happens only after the durable write.
func (s *Service) Start(ctx context.Context, sessionID, callerID uuid.UUID, callerRole string) (*models.LiveSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(sess, callerID, callerRole); err != nil {
		return nil, err
	}
	if !sess.Status.CanTransition(models.SessionStatusLive) {
		return nil, &models.InvalidStateError{Status: sess.Status, Msg: "session cannot start"}
	}
	startedAt, err := s.store.MarkLive(ctx, sessionID)
	if err != nil {
		return nil, s.resolveStale(ctx, sessionID, err, "session cannot start")
	}
	sess.Status = models.SessionStatusLive
	sess.StartedAt = &startedAt

	s.rooms.BroadcastToSession(sessionID, "session-live", sessionEvent(sess))
	s.notify(ctx, sess, "session_live")
	s.logger.Info("session started", zap.String("session_id", sessionID.String()))
	return sess, nil
}

// End transitions live -> ended, closes all open roster entries and tells the
// room to tear down peer connections.
func (s *Service) End(ctx context.Context, sessionID, callerID uuid.UUID, callerRole string) (*models.LiveSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(sess, callerID, callerRole); err != nil {
		return nil, err
	}
	if !sess.Status.CanTransition(models.SessionStatusEnded) {
		return nil, &models.InvalidStateError{Status: sess.Status, Msg: "session cannot end"}
	}
	endedAt, duration, err := s.store.MarkEnded(ctx, sessionID)
	if err != nil {
		return nil, s.resolveStale(ctx, sessionID, err, "session cannot end")
	}
	if err := s.store.CloseRosterForSession(ctx, sessionID); err != nil {
		s.logger.Warn("close roster on end", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	sess.Status = models.SessionStatusEnded
	sess.EndedAt = &endedAt
	sess.DurationMinutes = duration

	s.rooms.BroadcastToSession(sessionID, "session-ended", sessionEvent(sess))
	s.rooms.CloseSession(sessionID)
	s.notify(ctx, sess, "session_ended")
	s.logger.Info("session ended",
		zap.String("session_id", sessionID.String()),
		zap.Int("duration_minutes", duration))
	return sess, nil
}

// Cancel transitions scheduled -> cancelled. The only shortcut out of the
// one-directional status machine; live sessions must be ended instead.
func (s *Service) Cancel(ctx context.Context, sessionID, callerID uuid.UUID, callerRole string) (*models.LiveSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(sess, callerID, callerRole); err != nil {
		return nil, err
	}
	if !sess.Status.CanTransition(models.SessionStatusCancelled) {
		return nil, &models.InvalidStateError{Status: sess.Status, Msg: "session cannot be cancelled"}
	}
	if err := s.store.MarkCancelled(ctx, sessionID); err != nil {
		return nil, s.resolveStale(ctx, sessionID, err, "session cannot be cancelled")
	}
	sess.Status = models.SessionStatusCancelled
	s.notify(ctx, sess, "session_cancelled")
	return sess, nil
}

// UpdateInput carries optional fields for rescheduling a session.
type UpdateInput struct {
	Title       *string
	Description *string
	ScheduledAt *time.Time
}

// Update edits a session's details. Allowed only while scheduled.
func (s *Service) Update(ctx context.Context, sessionID, callerID uuid.UUID, callerRole string, in UpdateInput) (*models.LiveSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(sess, callerID, callerRole); err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusScheduled {
		return nil, &models.InvalidStateError{Status: sess.Status, Msg: "only scheduled sessions can be updated"}
	}
	if in.Title != nil && *in.Title == "" {
		return nil, &models.ValidationError{Msg: "title cannot be empty"}
	}
	if in.ScheduledAt != nil && !in.ScheduledAt.After(time.Now()) {
		return nil, &models.ValidationError{Msg: "scheduled_at must be in the future"}
	}
	if err := s.store.UpdateDetails(ctx, sessionID, in.Title, in.Description, in.ScheduledAt); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, sessionID)
}

// Delete removes a session record. Disallowed while live; End first.
func (s *Service) Delete(ctx context.Context, sessionID, callerID uuid.UUID, callerRole string) error {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := authorizeHost(sess, callerID, callerRole); err != nil {
		return err
	}
	if sess.Status == models.SessionStatusLive {
		return &models.InvalidStateError{Status: sess.Status, Msg: "end the session before deleting it"}
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.notify(ctx, sess, "session_deleted")
	return nil
}

// GetByID returns one session.
func (s *Service) GetByID(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	return s.store.GetByID(ctx, sessionID)
}

// ListByCourse returns a course's sessions.
func (s *Service) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.LiveSession, error) {
	return s.store.ListByCourse(ctx, courseID)
}

// ListByHost returns a host's sessions.
func (s *Service) ListByHost(ctx context.Context, hostID uuid.UUID) ([]models.LiveSession, error) {
	return s.store.ListByHost(ctx, hostID)
}

// Eligibility is the answer to a pre-join check.
type Eligibility struct {
	SessionID        uuid.UUID            `json:"session_id"`
	Status           models.SessionStatus `json:"status"`
	IsHost           bool                 `json:"is_host"`
	Occupancy        int                  `json:"occupancy"`
	Capacity         int                  `json:"capacity"`
	CanJoin          bool                 `json:"can_join"`
	RequiresApproval bool                 `json:"requires_approval"`
}

// JoinEligibility reports whether the caller could join right now and whether
// admission would require host approval. Informational: the admission
// controller re-checks everything at connect time.
func (s *Service) JoinEligibility(ctx context.Context, sessionID, callerID uuid.UUID) (*Eligibility, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	occupancy := s.rooms.Count(sessionID)
	isHost := sess.HostID == callerID
	return &Eligibility{
		SessionID:        sessionID,
		Status:           sess.Status,
		IsHost:           isHost,
		Occupancy:        occupancy,
		Capacity:         s.maxSize,
		CanJoin:          sess.Status == models.SessionStatusLive && occupancy < s.maxSize,
		RequiresApproval: !isHost,
	}, nil
}

// resolveStale maps a guarded-transition miss to an InvalidStateError that
// carries the status some concurrent caller left behind.
func (s *Service) resolveStale(ctx context.Context, sessionID uuid.UUID, err error, msg string) error {
	if !errors.Is(err, errStaleTransition) {
		return err
	}
	current, getErr := s.store.GetByID(ctx, sessionID)
	if getErr != nil {
		return getErr
	}
	return &models.InvalidStateError{Status: current.Status, Msg: msg}
}

func (s *Service) notify(ctx context.Context, sess *models.LiveSession, event string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyCourse(ctx, sess.CourseID, sess.ID, event); err != nil {
		s.logger.Warn("course notification failed",
			zap.Error(err),
			zap.String("event", event),
			zap.String("session_id", sess.ID.String()))
	}
}

// authorizeHost is the capability check for host-only operations: the caller
// must be the session's immutable host, or carry the admin role.
func authorizeHost(sess *models.LiveSession, callerID uuid.UUID, role string) error {
	if sess.HostID == callerID || role == RoleAdmin {
		return nil
	}
	return &models.PermissionError{Msg: "only the session host can do this"}
}

func sessionEvent(sess *models.LiveSession) map[string]interface{} {
	ev := map[string]interface{}{
		"session_id": sess.ID,
		"status":     sess.Status,
	}
	if sess.StartedAt != nil {
		ev["started_at"] = sess.StartedAt
	}
	if sess.EndedAt != nil {
		ev["ended_at"] = sess.EndedAt
		ev["duration_minutes"] = sess.DurationMinutes
	}
	return ev
}
