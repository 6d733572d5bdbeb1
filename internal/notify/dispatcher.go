package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Thanh14013/E-learning-Website-sub000/pkg/queue"
)

// Dispatcher drains the notification queue and POSTs each course event to the
// notification service webhook. Failed deliveries are retried by the queue.
type Dispatcher struct {
	queue      *queue.Queue
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(q *queue.Queue, webhookURL string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:      q,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Process delivers one job.
func (d *Dispatcher) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeCourseNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.CourseNotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver status: %d", resp.StatusCode)
	}

	d.logger.Info("course notification delivered",
		zap.String("job_id", job.ID),
		zap.String("event", payload.Event),
		zap.String("course_id", payload.CourseID.String()))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopping")
			return
		default:
		}

		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		d.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := d.Process(ctx, job); err != nil {
			d.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := d.queue.Retry(ctx, job); reErr != nil {
				d.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
