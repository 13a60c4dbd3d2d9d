package scheduler

import (
	"context"
	"sync"
	"time"

	"tempo/backend/internal/models"
	"tempo/backend/internal/stream"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Broadcaster is the delivery channel reminders are emitted through. The hub
// is handed in at construction; there is no late-bound process-wide state.
type Broadcaster interface {
	Broadcast(v interface{}) error
}

// PushDispatcher hands a fired reminder off for browser push delivery. May be
// nil when push is not configured.
type PushDispatcher interface {
	EnqueueReminder(task models.Task) error
}

// Scheduler decides when each task's reminder fires and emits it through the
// delivery channel. It keeps at most one live timer per task: scheduling a
// task again cancels and replaces any pending timer, so an edited task never
// fires twice or with stale data.
type Scheduler struct {
	db     *gorm.DB
	hub    Broadcaster
	push   PushDispatcher
	logger *zap.Logger

	now func() time.Time

	mu     sync.Mutex
	timers map[uint]*time.Timer
}

func New(db *gorm.DB, hub Broadcaster, push PushDispatcher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		hub:    hub,
		push:   push,
		logger: logger,
		now:    time.Now,
		timers: make(map[uint]*time.Timer),
	}
}

// Schedule registers the task's reminder. If the fire time has already
// passed, the reminder is delivered synchronously before Schedule returns;
// otherwise a one-shot timer replaces any timer already pending for the task.
// Reminders are best-effort: delivery errors are logged, never returned.
func (s *Scheduler) Schedule(task models.Task) {
	fireAt := task.FireAt()
	now := s.now()

	// Cancel and register under one lock so two concurrent schedules for the
	// same task can never both leave a live timer behind.
	s.mu.Lock()
	if old, ok := s.timers[task.ID]; ok {
		delete(s.timers, task.ID)
		old.Stop()
	}

	if !fireAt.After(now) {
		s.mu.Unlock()
		s.deliver(task)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(fireAt.Sub(now), func() {
		// A reschedule or cancel may have raced the firing; deliver only if
		// this timer is still the registered one.
		s.mu.Lock()
		current, ok := s.timers[task.ID]
		if ok && current == timer {
			delete(s.timers, task.ID)
		}
		s.mu.Unlock()
		if !ok || current != timer {
			return
		}
		s.deliver(task)
	})
	s.timers[task.ID] = timer
	s.mu.Unlock()

	s.logger.Info("reminder scheduled",
		zap.Uint("task_id", task.ID),
		zap.String("title", task.Title),
		zap.Time("fire_at", fireAt),
	)
}

// Cancel stops any pending timer for the task. Idempotent; called by the
// delete path and by Schedule itself before re-registering.
func (s *Scheduler) Cancel(taskID uint) {
	s.mu.Lock()
	timer, ok := s.timers[taskID]
	if ok {
		delete(s.timers, taskID)
	}
	s.mu.Unlock()

	if ok {
		timer.Stop()
	}
}

// ScheduleAll scans the task store and registers a timer for every task whose
// fire time is still in the future. Intended to run once at startup, after
// store connectivity is established; timers do not survive a restart, so this
// is what recreates them. Reminders that came due while the process was down
// are skipped rather than delivered stale.
func (s *Scheduler) ScheduleAll(ctx context.Context) error {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).Find(&tasks).Error; err != nil {
		return err
	}

	now := s.now()
	scheduled := 0
	for _, task := range tasks {
		if !task.FireAt().After(now) {
			continue
		}
		s.Schedule(task)
		scheduled++
	}

	s.logger.Info("reminder rescan complete",
		zap.Int("tasks", len(tasks)),
		zap.Int("scheduled", scheduled),
	)
	return nil
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[uint]*time.Timer)
	s.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
}

// Pending reports how many timers are currently registered.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) deliver(task models.Task) {
	event := stream.Event{
		Type: stream.EventTypeTaskNotification,
		Task: &stream.TaskRef{
			ID:    task.ID,
			Title: task.Title,
			Start: task.Start.Format(time.RFC3339),
		},
	}

	if err := s.hub.Broadcast(event); err != nil {
		s.logger.Error("reminder broadcast failed",
			zap.Uint("task_id", task.ID),
			zap.Error(err),
		)
	}

	if s.push != nil {
		if err := s.push.EnqueueReminder(task); err != nil {
			s.logger.Error("push dispatch enqueue failed",
				zap.Uint("task_id", task.ID),
				zap.Error(err),
			)
		}
	}
}
