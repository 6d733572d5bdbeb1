package livesession

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/middleware"
	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
	"github.com/Thanh14013/E-learning-Website-sub000/pkg/response"
)

// Handler exposes the lifecycle HTTP surface.
type Handler struct {
	svc   *Service
	repo  *Repository
	rooms Rooms
}

// NewHandler creates a live session handler.
func NewHandler(svc *Service, repo *Repository, rooms Rooms) *Handler {
	return &Handler{svc: svc, repo: repo, rooms: rooms}
}

// writeError maps the subsystem error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		validation *models.ValidationError
		permission *models.PermissionError
		state      *models.InvalidStateError
		capacity   *models.CapacityError
		notFound   *models.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		response.BadRequest(c, validation.Error())
	case errors.As(err, &permission):
		response.Forbidden(c, permission.Error())
	case errors.As(err, &state):
		response.Conflict(c, state.Error())
	case errors.As(err, &capacity):
		response.Conflict(c, capacity.Error())
	case errors.As(err, &notFound):
		response.NotFound(c, notFound.Error())
	default:
		response.Internal(c, "internal error")
	}
}

func callerID(c *gin.Context) uuid.UUID {
	return c.MustGet(middleware.ContextUserID).(uuid.UUID)
}

func callerRole(c *gin.Context) string {
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	return role
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// CreateRequest is the body for POST /live-sessions.
type CreateRequest struct {
	CourseID    string `json:"course_id" binding:"required,uuid"`
	HostID      string `json:"host_id"` // optional; defaults to the caller
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	ScheduledAt string `json:"scheduled_at" binding:"required"`
}

// Create handles POST /live-sessions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		response.BadRequest(c, "invalid course_id")
		return
	}
	var hostID uuid.UUID
	if req.HostID != "" {
		if hostID, err = uuid.Parse(req.HostID); err != nil {
			response.BadRequest(c, "invalid host_id")
			return
		}
	}
	scheduledAt, err := parseTime(req.ScheduledAt)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_at")
		return
	}
	sess, err := h.svc.Create(c.Request.Context(), callerID(c), CreateInput{
		CourseID:    courseID,
		HostID:      hostID,
		Title:       req.Title,
		Description: req.Description,
		ScheduledAt: scheduledAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, sess)
}

func (h *Handler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// GetByID handles GET /live-sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, sess)
}

// Start handles POST /live-sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Start(c.Request.Context(), id, callerID(c), callerRole(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, sess)
}

// End handles POST /live-sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.End(c.Request.Context(), id, callerID(c), callerRole(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, sess)
}

// Cancel handles POST /live-sessions/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Cancel(c.Request.Context(), id, callerID(c), callerRole(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, sess)
}

// UpdateRequest is the body for PATCH /live-sessions/:id.
type UpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	ScheduledAt *string `json:"scheduled_at"`
}

// Update handles PATCH /live-sessions/:id.
func (h *Handler) Update(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	in := UpdateInput{Title: req.Title, Description: req.Description}
	if req.ScheduledAt != nil {
		t, err := parseTime(*req.ScheduledAt)
		if err != nil {
			response.BadRequest(c, "invalid scheduled_at")
			return
		}
		in.ScheduledAt = &t
	}
	sess, err := h.svc.Update(c.Request.Context(), id, callerID(c), callerRole(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, sess)
}

// Delete handles DELETE /live-sessions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id, callerID(c), callerRole(c)); err != nil {
		writeError(c, err)
		return
	}
	response.NoContent(c)
}

// ListByCourse handles GET /courses/:id/live-sessions.
func (h *Handler) ListByCourse(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	list, err := h.svc.ListByCourse(c.Request.Context(), courseID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, list)
}

// ListHosted handles GET /live-sessions (sessions hosted by the caller).
func (h *Handler) ListHosted(c *gin.Context) {
	list, err := h.svc.ListByHost(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, list)
}

// Eligibility handles GET /live-sessions/:id/eligibility.
func (h *Handler) Eligibility(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	elig, err := h.svc.JoinEligibility(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, elig)
}

// Occupancy handles GET /live-sessions/:id/occupancy (live presence count).
func (h *Handler) Occupancy(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"session_id": id, "count": h.rooms.Count(id)})
}

// Attendees handles GET /live-sessions/:id/attendees (host or admin).
func (h *Handler) Attendees(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := authorizeHost(sess, callerID(c), callerRole(c)); err != nil {
		writeError(c, err)
		return
	}
	list, err := h.repo.ListAttendees(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, list)
}

// WaitingRoom handles GET /live-sessions/:id/waiting-room (host or admin).
func (h *Handler) WaitingRoom(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := authorizeHost(sess, callerID(c), callerRole(c)); err != nil {
		writeError(c, err)
		return
	}
	list, err := h.repo.ListWaiting(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, list)
}
