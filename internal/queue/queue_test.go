package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*miniredis.Miniredis, *Producer, *Consumer, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Default()
	cfg.Workers.Monitor.ClaimBatch = 10
	cfg.Workers.Monitor.ClaimInterval = 5 * time.Millisecond
	cfg.Workers.Monitor.Lease = time.Minute

	rc := NewRedisClientFrom(client)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	consumer := NewConsumer(rc, cfg)
	consumer.now = func() time.Time { return now }
	return mr, NewProducer(rc, cfg), consumer, &now
}

func TestClaim_OnlyDueTasks(t *testing.T) {
	_, producer, consumer, now := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: "due", NotBefore: *now}))
	require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: "later", NotBefore: now.Add(30 * time.Second)}))

	deliveries, err := consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "due", deliveries[0].Task.StudyID)

	*now = now.Add(30 * time.Second)
	deliveries, err = consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "later", deliveries[0].Task.StudyID)
}

func TestClaim_LeaseHidesTaskUntilExpiry(t *testing.T) {
	_, producer, consumer, now := newTestQueue(t)
	ctx := context.Background()

	task := model.PollTask{StudyID: "STUDY-1", TransientStreak: 2, NotBefore: *now}
	require.NoError(t, producer.SchedulePoll(ctx, task))

	first, err := consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 2, first[0].Task.TransientStreak)

	again, err := consumer.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	// The worker never acked: the task comes back after the lease.
	*now = now.Add(time.Minute)
	again, err = consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "STUDY-1", again[0].Task.StudyID)
}

func TestAck(t *testing.T) {
	mr, producer, consumer, now := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: "STUDY-1", TransientStreak: 1, NotBefore: *now}))
	deliveries, err := consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, consumer.Ack(ctx, deliveries[0]))
	assert.False(t, mr.Exists(consumer.keys.due))
	assert.False(t, mr.Exists(consumer.keys.streaks))
	assert.False(t, mr.Exists(consumer.keys.gens))

	*now = now.Add(time.Hour)
	deliveries, err = consumer.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestAck_KeepsRescheduledPoll(t *testing.T) {
	_, producer, consumer, now := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: "STUDY-1", NotBefore: *now}))
	deliveries, err := consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// The worker enqueues the follow-up before acking the claimed task.
	next := model.PollTask{StudyID: "STUDY-1", TransientStreak: 3, NotBefore: now.Add(10 * time.Second)}
	require.NoError(t, producer.SchedulePoll(ctx, next))
	require.NoError(t, consumer.Ack(ctx, deliveries[0]))

	*now = now.Add(10 * time.Second)
	deliveries, err = consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "STUDY-1", deliveries[0].Task.StudyID)
	assert.Equal(t, 3, deliveries[0].Task.TransientStreak)
}

func TestSchedulePoll_OneMemberPerStudy(t *testing.T) {
	mr, producer, consumer, now := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: "STUDY-1", NotBefore: *now}))
	require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: "STUDY-1", TransientStreak: 1, NotBefore: now.Add(time.Second)}))

	members, err := mr.ZMembers(consumer.keys.due)
	require.NoError(t, err)
	assert.Equal(t, []string{"STUDY-1"}, members)

	// The later schedule replaced the earlier due time.
	deliveries, err := consumer.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	*now = now.Add(time.Second)
	deliveries, err = consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, 1, deliveries[0].Task.TransientStreak)
}

func TestEnsurePoll(t *testing.T) {
	mr, producer, consumer, now := newTestQueue(t)
	ctx := context.Background()

	added, err := producer.EnsurePoll(ctx, model.PollTask{StudyID: "STUDY-1", NotBefore: *now})
	require.NoError(t, err)
	assert.True(t, added)

	deliveries, err := consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// A leased poll is still pending: nothing is added and the lease holds.
	added, err = producer.EnsurePoll(ctx, model.PollTask{StudyID: "STUDY-1", NotBefore: *now})
	require.NoError(t, err)
	assert.False(t, added)

	score, err := mr.ZScore(consumer.keys.due, "STUDY-1")
	require.NoError(t, err)
	assert.Equal(t, toMillis(now.Add(time.Minute)), score)

	require.NoError(t, consumer.Ack(ctx, deliveries[0]))
	added, err = producer.EnsurePoll(ctx, model.PollTask{StudyID: "STUDY-1", NotBefore: *now})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestDeadLetter(t *testing.T) {
	mr, producer, consumer, now := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: "STUDY-1", NotBefore: *now}))
	deliveries, err := consumer.Claim(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, consumer.DeadLetter(ctx, deliveries[0]))
	dlq, err := mr.List(consumer.dlq)
	require.NoError(t, err)
	assert.Equal(t, []string{"STUDY-1"}, dlq)
	assert.False(t, mr.Exists(consumer.keys.due))
}

func TestConsumeDuePolls(t *testing.T) {
	_, producer, consumer, now := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, producer.SchedulePoll(ctx, model.PollTask{StudyID: id, NotBefore: *now}))
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan error, 1)
	go func() {
		done <- consumer.ConsumeDuePolls(ctx, func(ctx context.Context, d Delivery) {
			mu.Lock()
			seen[d.Task.StudyID] = true
			n := len(seen)
			mu.Unlock()
			assert.NoError(t, consumer.Ack(ctx, d))
			if n == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Len(t, seen, 3)
}
