package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// claimScript moves due members forward by the lease so that no other
// consumer sees them until the lease runs out. A consumer that dies before
// acking leaves the task to be claimed again. It returns member, streak and
// generation triples.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local out = {}
for _, member in ipairs(due) do
	redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[2]), member)
	out[#out + 1] = member
	out[#out + 1] = redis.call('HGET', KEYS[2], member) or '0'
	out[#out + 1] = redis.call('HGET', KEYS[3], member) or '0'
end
return out
`)

// ackScript removes a member only while it still carries the claimed
// generation. A poll rescheduled since the claim survives the ack.
var ackScript = redis.NewScript(`
if (redis.call('HGET', KEYS[3], ARGV[1]) or '0') ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

// Delivery is one claimed poll task.
type Delivery struct {
	Task model.PollTask
	gen  string
}

type DeliveryHandler func(ctx context.Context, d Delivery)

type Consumer struct {
	client        *redis.Client
	keys          queueKeys
	dlq           string
	batch         int
	claimInterval time.Duration
	lease         time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

func NewConsumer(redisClient *RedisClient, cfg *config.Config) *Consumer {
	return &Consumer{
		client:        redisClient.Client(),
		keys:          newQueueKeys(cfg.Redis.PollQueue),
		dlq:           cfg.Redis.PollQueue + cfg.Redis.DLQSuffix,
		batch:         cfg.Workers.Monitor.ClaimBatch,
		claimInterval: cfg.Workers.Monitor.ClaimInterval,
		lease:         cfg.Workers.Monitor.Lease,
		now:           time.Now,
		log:           logger.For("queue"),
	}
}

// ConsumeDuePolls claims due tasks and passes each to handler until ctx is
// done. handler owns the delivery and must Ack or DeadLetter it.
func (c *Consumer) ConsumeDuePolls(ctx context.Context, handler DeliveryHandler) error {
	for {
		deliveries, err := c.Claim(ctx)
		if err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Str("queue", c.keys.due).Msg("Failed to claim poll tasks")
		}

		for _, d := range deliveries {
			handler(ctx, d)
		}

		// A full batch means more may be due right now.
		if err == nil && len(deliveries) == c.batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.claimInterval):
		}
	}
}

// Claim leases up to one batch of due tasks.
func (c *Consumer) Claim(ctx context.Context) ([]Delivery, error) {
	now := c.now()
	fields, err := claimScript.Run(ctx, c.client, c.keys.memberKeys(),
		toMillis(now), c.lease.Milliseconds(), c.batch).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	deliveries := make([]Delivery, 0, len(fields)/3)
	for i := 0; i+2 < len(fields); i += 3 {
		streak, err := strconv.Atoi(fields[i+1])
		if err != nil {
			c.log.Warn().Err(err).Str("study_id", fields[i]).Msg("Bad transient streak, starting over")
			streak = 0
		}
		deliveries = append(deliveries, Delivery{
			Task: model.PollTask{StudyID: fields[i], TransientStreak: streak, NotBefore: now},
			gen:  fields[i+2],
		})
	}
	return deliveries, nil
}

// Ack removes a finished task unless it was rescheduled after the claim.
func (c *Consumer) Ack(ctx context.Context, d Delivery) error {
	return ackScript.Run(ctx, c.client, c.keys.memberKeys(), d.Task.StudyID, d.gen).Err()
}

// DeadLetter parks a task that can never succeed.
func (c *Consumer) DeadLetter(ctx context.Context, d Delivery) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, c.dlq, d.Task.StudyID)
		pipe.ZRem(ctx, c.keys.due, d.Task.StudyID)
		pipe.HDel(ctx, c.keys.streaks, d.Task.StudyID)
		pipe.HDel(ctx, c.keys.gens, d.Task.StudyID)
		return nil
	})
	return err
}
