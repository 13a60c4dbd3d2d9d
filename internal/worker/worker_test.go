package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tempo/backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PushSubscription{}))
	return db
}

func TestEnqueueReminder(t *testing.T) {
	client := newTestRedis(t)
	queue := NewQueue(client)

	task := models.Task{ID: 9, Title: "Water plants", Start: time.Now()}
	require.NoError(t, queue.EnqueueReminder(task))

	ctx := context.Background()
	length, err := client.LLen(ctx, QueueDefault).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	data, err := client.LIndex(ctx, QueueDefault, 0).Result()
	require.NoError(t, err)

	var job Job
	require.NoError(t, json.Unmarshal([]byte(data), &job))
	assert.Equal(t, JobTypePushReminder, job.Type)

	var payload ReminderPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, uint(9), payload.TaskID)
	assert.Equal(t, "Water plants", payload.Title)
}

func TestExecuteJobRetriesThenDeadLetters(t *testing.T) {
	client := newTestRedis(t)
	w := NewWorker(client, zap.NewNop())
	defer w.cancel()

	w.RegisterHandler(JobTypePushReminder, func(ctx context.Context, job *Job) error {
		return errors.New("push endpoint unreachable")
	})

	job := &Job{ID: "j1", Type: JobTypePushReminder, MaxTries: 2}

	require.NoError(t, w.executeJob(job))
	length, _ := client.LLen(context.Background(), queueRetry).Result()
	assert.Equal(t, int64(1), length, "first failure goes to the retry queue")

	require.NoError(t, w.executeJob(job))
	length, _ = client.LLen(context.Background(), queueDead).Result()
	assert.Equal(t, int64(1), length, "exhausted job lands on the dead queue")
}

func TestExecuteJobUnknownType(t *testing.T) {
	client := newTestRedis(t)
	w := NewWorker(client, zap.NewNop())
	defer w.cancel()

	err := w.executeJob(&Job{ID: "j2", Type: "mystery", MaxTries: 1})
	assert.Error(t, err)
}

func TestWorkerDrainsQueue(t *testing.T) {
	client := newTestRedis(t)
	w := NewWorker(client, zap.NewNop())

	var handled atomic.Int64
	w.RegisterHandler(JobTypePushReminder, func(ctx context.Context, job *Job) error {
		handled.Add(1)
		return nil
	})

	queue := NewQueue(client)
	for i := 0; i < 3; i++ {
		require.NoError(t, queue.EnqueueReminder(models.Task{ID: uint(i + 1)}))
	}

	w.Start(1)
	assert.Eventually(t, func() bool {
		return handled.Load() == 3
	}, 3*time.Second, 20*time.Millisecond)
	w.Stop()
}

func TestPushReminderHandlerPostsToSubscriptions(t *testing.T) {
	db := newTestDB(t)

	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "60", r.Header.Get("TTL"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	require.NoError(t, db.Create(&models.PushSubscription{Endpoint: server.URL}).Error)

	payload, err := json.Marshal(ReminderPayload{TaskID: 1, Title: "Pay rent"})
	require.NoError(t, err)

	handler := NewPushReminderHandler(db, server.Client(), zap.NewNop())
	require.NoError(t, handler(context.Background(), &Job{Payload: payload}))

	assert.Equal(t, int64(1), received.Load())
}

func TestPushReminderHandlerDropsGoneSubscriptions(t *testing.T) {
	db := newTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	require.NoError(t, db.Create(&models.PushSubscription{Endpoint: server.URL}).Error)

	payload, err := json.Marshal(ReminderPayload{TaskID: 1})
	require.NoError(t, err)

	handler := NewPushReminderHandler(db, server.Client(), zap.NewNop())
	require.NoError(t, handler(context.Background(), &Job{Payload: payload}))

	var count int64
	db.Model(&models.PushSubscription{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
