package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tempo/backend/internal/models"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type JobType string

const (
	JobTypePushReminder JobType = "push_reminder"
)

const (
	QueueDefault = "push_jobs"
	queueRetry   = "push_jobs_retry"
	queueDead    = "push_jobs_dead"
)

type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	MaxTries  int             `json:"max_tries"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReminderPayload is what a fired task reminder carries into the push queue.
type ReminderPayload struct {
	TaskID uint      `json:"task_id"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
}

type JobHandler func(ctx context.Context, job *Job) error

// Worker drains the push-dispatch queue. Reminder delivery stays best-effort:
// a job that exhausts its retries lands on the dead queue and is forgotten.
type Worker struct {
	client   *redis.Client
	logger   *zap.Logger
	handlers map[JobType]JobHandler
	queues   []string
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewWorker(client *redis.Client, logger *zap.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		client:   client,
		logger:   logger,
		handlers: make(map[JobType]JobHandler),
		queues:   []string{QueueDefault, queueRetry},
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) Start(concurrency int) {
	w.logger.Info("starting push workers", zap.Int("concurrency", concurrency))
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.logger.Info("push workers stopped")
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			if err := w.processNextJob(); err != nil {
				w.logger.Error("push job processing failed", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) processNextJob() error {
	result, err := w.client.BLPop(w.ctx, 5*time.Second, w.queues...).Result()
	if err != nil {
		if err == redis.Nil || w.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return w.executeJob(&job)
}

func (w *Worker) executeJob(job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}

	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	if err := handler(ctx, job); err != nil {
		job.Attempts++
		if job.Attempts < job.MaxTries {
			w.logger.Warn("push job failed, retrying",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempts),
				zap.Error(err),
			)
			return w.enqueue(queueRetry, job)
		}

		w.logger.Error("push job failed permanently",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(err),
		)
		return w.enqueue(queueDead, job)
	}

	return nil
}

func (w *Worker) enqueue(queue string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return w.client.RPush(w.ctx, queue, data).Err()
}

// Queue is the producer side, handed to the scheduler.
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// EnqueueReminder queues a fired reminder for browser push delivery.
func (q *Queue) EnqueueReminder(task models.Task) error {
	payload, err := json.Marshal(ReminderPayload{
		TaskID: task.ID,
		Title:  task.Title,
		Start:  task.Start,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reminder payload: %w", err)
	}

	job := Job{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Type:      JobTypePushReminder,
		Payload:   payload,
		MaxTries:  3,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return q.client.RPush(ctx, QueueDefault, data).Err()
}

// NewPushReminderHandler posts the reminder payload to every stored push
// subscription. Endpoints the push service reports gone are dropped from the
// store; everything else is best-effort.
func NewPushReminderHandler(db *gorm.DB, httpClient *http.Client, logger *zap.Logger) JobHandler {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return func(ctx context.Context, job *Job) error {
		var payload ReminderPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal reminder payload: %w", err)
		}

		var subs []models.PushSubscription
		if err := db.WithContext(ctx).Find(&subs).Error; err != nil {
			return err
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		for _, sub := range subs {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
			if err != nil {
				logger.Warn("bad push endpoint", zap.String("endpoint", sub.Endpoint), zap.Error(err))
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("TTL", "60")

			resp, err := httpClient.Do(req)
			if err != nil {
				logger.Warn("push delivery failed",
					zap.Uint("task_id", payload.TaskID),
					zap.String("endpoint", sub.Endpoint),
					zap.Error(err),
				)
				continue
			}
			resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				db.Delete(&models.PushSubscription{}, sub.ID)
			}
		}

		return nil
	}
}
