package livesession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

const sessionColumns = `id, course_id, host_id, title, description, scheduled_at, status,
	started_at, ended_at, duration_minutes, peak_participants, created_at, updated_at`

// Repository is the session record store. Lifecycle fields, the roster, the
// waiting room and the chat transcript are all updated with targeted
// field-level writes so interleaved toggle and lifecycle events do not
// clobber each other.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new session with status "scheduled".
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions (id, course_id, host_id, title, description, scheduled_at, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 'scheduled')
		RETURNING id, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.CourseID, s.HostID, s.Title, s.Description, s.ScheduledAt).
		Scan(&s.ID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	var s models.LiveSession
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&s.ID, &s.CourseID, &s.HostID, &s.Title, &s.Description, &s.ScheduledAt, &s.Status,
		&s.StartedAt, &s.EndedAt, &s.DurationMinutes, &s.PeakParticipants, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NotFoundError{Resource: "session"}
		}
		return nil, err
	}
	return &s, nil
}

// ListByCourse returns all sessions for a course, newest schedule first.
func (r *Repository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE course_id = $1 ORDER BY scheduled_at DESC`
	return r.querySessions(ctx, q, courseID)
}

// ListByHost returns all sessions hosted by a user, newest schedule first.
func (r *Repository) ListByHost(ctx context.Context, hostID uuid.UUID) ([]models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE host_id = $1 ORDER BY scheduled_at DESC`
	return r.querySessions(ctx, q, hostID)
}

func (r *Repository) querySessions(ctx context.Context, q string, arg interface{}) ([]models.LiveSession, error) {
	rows, err := r.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.LiveSession
	for rows.Next() {
		var s models.LiveSession
		if err := rows.Scan(
			&s.ID, &s.CourseID, &s.HostID, &s.Title, &s.Description, &s.ScheduledAt, &s.Status,
			&s.StartedAt, &s.EndedAt, &s.DurationMinutes, &s.PeakParticipants, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// UpdateDetails updates title, description and scheduled time. Nil fields keep
// their current value. Lifecycle status is not touched here; the service
// guards that updates only happen while scheduled.
func (r *Repository) UpdateDetails(ctx context.Context, id uuid.UUID, title, description *string, scheduledAt *time.Time) error {
	const q = `UPDATE live_sessions SET
		title = COALESCE($1, title),
		description = COALESCE($2, description),
		scheduled_at = COALESCE($3, scheduled_at),
		updated_at = NOW()
		WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, title, description, scheduledAt, id)
	return err
}

// MarkLive transitions scheduled -> live, stamping started_at exactly once.
// The WHERE status guard makes concurrent Start calls race-safe: only one
// wins, the rest see zero rows.
func (r *Repository) MarkLive(ctx context.Context, id uuid.UUID) (time.Time, error) {
	const q = `UPDATE live_sessions SET status = 'live', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING started_at`
	var startedAt time.Time
	err := r.pool.QueryRow(ctx, q, id).Scan(&startedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, errStaleTransition
	}
	return startedAt, err
}

// MarkEnded transitions live -> ended, stamping ended_at and the whole-minute
// duration exactly once.
func (r *Repository) MarkEnded(ctx context.Context, id uuid.UUID) (time.Time, int, error) {
	const q = `UPDATE live_sessions SET status = 'ended', ended_at = NOW(),
		duration_minutes = GREATEST(0, ROUND(EXTRACT(EPOCH FROM (NOW() - started_at)) / 60))::INT,
		updated_at = NOW()
		WHERE id = $1 AND status = 'live'
		RETURNING ended_at, duration_minutes`
	var endedAt time.Time
	var duration int
	err := r.pool.QueryRow(ctx, q, id).Scan(&endedAt, &duration)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, 0, errStaleTransition
	}
	return endedAt, duration, err
}

// MarkCancelled transitions scheduled -> cancelled.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_sessions SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errStaleTransition
	}
	return nil
}

// Delete removes a session record. Roster and waiting room rows cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM live_sessions WHERE id = $1`, id)
	return err
}

// UpdatePeakParticipants raises the recorded peak occupancy, never lowers it.
func (r *Repository) UpdatePeakParticipants(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE live_sessions SET peak_participants = $2, updated_at = NOW()
		WHERE id = $1 AND peak_participants < $2`
	_, err := r.pool.Exec(ctx, q, id, count)
	return err
}

// errStaleTransition signals that a guarded status transition matched no row;
// the service re-reads the session to report the actual current status.
var errStaleTransition = errors.New("stale status transition")

// --- Roster ---

const rosterColumns = `id, session_id, user_id, display_name, endpoint_id, joined_at, left_at,
	video_on, audio_on, screen_share, hand_raised`

// UpsertRosterEntry admits a participant: first admission inserts the entry,
// a re-join reuses the existing slot (joined_at refreshed, left_at cleared,
// endpoint replaced). Media toggles reset to their defaults on every join.
func (r *Repository) UpsertRosterEntry(ctx context.Context, sessionID, userID uuid.UUID, displayName, endpointID string) (*models.RosterEntry, error) {
	q := `INSERT INTO session_participants (session_id, user_id, display_name, endpoint_id, joined_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			endpoint_id = EXCLUDED.endpoint_id,
			joined_at = NOW(),
			left_at = NULL,
			video_on = TRUE, audio_on = TRUE, screen_share = FALSE, hand_raised = FALSE
		RETURNING ` + rosterColumns
	var e models.RosterEntry
	err := r.pool.QueryRow(ctx, q, sessionID, userID, displayName, endpointID).Scan(
		&e.ID, &e.SessionID, &e.UserID, &e.DisplayName, &e.EndpointID, &e.JoinedAt, &e.LeftAt,
		&e.VideoOn, &e.AudioOn, &e.ScreenShare, &e.HandRaised)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkRosterLeft stamps left_at and clears the endpoint reference for the
// participant's open entry. Idempotent: an already-closed entry is untouched.
func (r *Repository) MarkRosterLeft(ctx context.Context, sessionID, userID uuid.UUID) error {
	const q = `UPDATE session_participants SET left_at = NOW(), endpoint_id = NULL
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, sessionID, userID)
	return err
}

// rosterToggleColumns whitelists the media toggle fields a participant may
// update on its own entry.
var rosterToggleColumns = map[string]string{
	"video":  "video_on",
	"audio":  "audio_on",
	"screen": "screen_share",
	"hand":   "hand_raised",
}

// UpdateRosterToggle writes one media toggle field. Last write wins under
// toggle spam from a single client.
func (r *Repository) UpdateRosterToggle(ctx context.Context, sessionID, userID uuid.UUID, field string, value bool) error {
	col, ok := rosterToggleColumns[field]
	if !ok {
		return &models.ValidationError{Msg: "unknown toggle field: " + field}
	}
	q := fmt.Sprintf(`UPDATE session_participants SET %s = $3 WHERE session_id = $1 AND user_id = $2`, col)
	_, err := r.pool.Exec(ctx, q, sessionID, userID, value)
	return err
}

// AttendeeRow is one row for GET /live-sessions/:id/attendees.
type AttendeeRow struct {
	UserID          uuid.UUID  `json:"user_id"`
	DisplayName     string     `json:"display_name"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	AttendedSeconds int64      `json:"attended_seconds"`
}

// ListAttendees returns the durable roster with attendance durations.
func (r *Repository) ListAttendees(ctx context.Context, sessionID uuid.UUID) ([]AttendeeRow, error) {
	const q = `SELECT user_id, display_name, joined_at, left_at,
		GREATEST(0, EXTRACT(EPOCH FROM (COALESCE(left_at, NOW()) - joined_at)))::BIGINT
		FROM session_participants WHERE session_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []AttendeeRow
	for rows.Next() {
		var row AttendeeRow
		if err := rows.Scan(&row.UserID, &row.DisplayName, &row.JoinedAt, &row.LeftAt, &row.AttendedSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// HasActiveRosterEntry reports whether the participant has an open entry
// (left_at IS NULL) in the session.
func (r *Repository) HasActiveRosterEntry(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`
	var one int
	err := r.pool.QueryRow(ctx, q, sessionID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// CloseRosterForSession closes every open entry when the session ends.
func (r *Repository) CloseRosterForSession(ctx context.Context, sessionID uuid.UUID) error {
	const q = `UPDATE session_participants SET left_at = NOW(), endpoint_id = NULL
		WHERE session_id = $1 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, sessionID)
	return err
}

// CloseDanglingRoster closes open roster entries of live sessions at process
// startup. The presence registry is rebuilt empty, so durable state must not
// claim occupants; clients re-join and reclaim their slots.
func (r *Repository) CloseDanglingRoster(ctx context.Context) (int64, error) {
	const q = `UPDATE session_participants p SET left_at = NOW(), endpoint_id = NULL
		FROM live_sessions s
		WHERE p.session_id = s.id AND s.status = 'live' AND p.left_at IS NULL`
	tag, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Waiting room ---

// AddWaiting creates or refreshes a waiting-room entry for the participant.
func (r *Repository) AddWaiting(ctx context.Context, e *models.WaitingRoomEntry) error {
	const q = `INSERT INTO session_waiting_room (session_id, user_id, display_name, endpoint_id, avatar_url, requested_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			endpoint_id = EXCLUDED.endpoint_id,
			avatar_url = EXCLUDED.avatar_url,
			requested_at = NOW()
		RETURNING requested_at`
	return r.pool.QueryRow(ctx, q, e.SessionID, e.UserID, e.DisplayName, e.EndpointID, e.AvatarURL).
		Scan(&e.RequestedAt)
}

// RemoveWaiting deletes a waiting-room entry (approved, denied or
// disconnected while waiting). Idempotent.
func (r *Repository) RemoveWaiting(ctx context.Context, sessionID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM session_waiting_room WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID)
	return err
}

// ListWaiting returns pending admission requests, oldest first.
func (r *Repository) ListWaiting(ctx context.Context, sessionID uuid.UUID) ([]models.WaitingRoomEntry, error) {
	const q = `SELECT session_id, user_id, display_name, endpoint_id, avatar_url, requested_at
		FROM session_waiting_room WHERE session_id = $1 ORDER BY requested_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.WaitingRoomEntry
	for rows.Next() {
		var e models.WaitingRoomEntry
		if err := rows.Scan(&e.SessionID, &e.UserID, &e.DisplayName, &e.EndpointID, &e.AvatarURL, &e.RequestedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// --- Chat transcript ---

// AppendChat appends one message to the session's transcript, trimming to the
// most recent limit entries in the same statement (oldest evicted first).
func (r *Repository) AppendChat(ctx context.Context, sessionID uuid.UUID, msg models.ChatMessage, limit int) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	const q = `UPDATE live_sessions SET chat_history = (
			SELECT COALESCE(jsonb_agg(m ORDER BY ord), '[]'::jsonb)
			FROM (
				SELECT m, ord
				FROM jsonb_array_elements(chat_history || jsonb_build_array($2::jsonb)) WITH ORDINALITY AS t(m, ord)
				ORDER BY ord DESC
				LIMIT $3
			) tail
		), updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, sessionID, string(body), limit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Resource: "session"}
	}
	return nil
}

// RecentChat returns the most recent limit messages in send order.
func (r *Repository) RecentChat(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	const q = `SELECT COALESCE(jsonb_agg(m ORDER BY ord), '[]'::jsonb)
		FROM (
			SELECT m, ord
			FROM live_sessions, jsonb_array_elements(chat_history) WITH ORDINALITY AS t(m, ord)
			WHERE id = $1
			ORDER BY ord DESC
			LIMIT $2
		) tail`
	var raw []byte
	if err := r.pool.QueryRow(ctx, q, sessionID, limit).Scan(&raw); err != nil {
		return nil, err
	}
	var msgs []models.ChatMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal chat history: %w", err)
	}
	return msgs, nil
}
