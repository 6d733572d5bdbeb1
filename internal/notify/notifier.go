package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/Thanh14013/E-learning-Website-sub000/pkg/queue"
)

// CourseNotifier hands course-scoped session events to the job queue; the
// dispatcher worker delivers them to the notification service, which fans
// out to enrollees.
type CourseNotifier struct {
	queue *queue.Queue
}

// NewCourseNotifier creates a queue-backed notifier.
func NewCourseNotifier(q *queue.Queue) *CourseNotifier {
	return &CourseNotifier{queue: q}
}

// NotifyCourse enqueues one session event for a course.
func (n *CourseNotifier) NotifyCourse(ctx context.Context, courseID, sessionID uuid.UUID, event string) error {
	return n.queue.EnqueueCourseNotification(ctx, queue.CourseNotificationPayload{
		CourseID:  courseID,
		SessionID: sessionID,
		Event:     event,
	})
}
