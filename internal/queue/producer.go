package queue

import (
	"context"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"

	"github.com/go-redis/redis/v8"
)

// scheduleScript sets the due time of a study's single poll member, records
// its transient streak and stamps it with a fresh generation from the
// sequence key. ARGV[4] = "1" leaves an already pending poll untouched.
var scheduleScript = redis.NewScript(`
if ARGV[4] == '1' and redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
if tonumber(ARGV[3]) > 0 then
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
else
	redis.call('HDEL', KEYS[2], ARGV[1])
end
redis.call('HSET', KEYS[3], ARGV[1], redis.call('INCR', KEYS[4]))
return 1
`)

// Producer schedules polls on a sorted set scored by due time in
// milliseconds. Each study has at most one member, so scheduling the same
// study twice moves its due time instead of starting a second chain.
type Producer struct {
	client *redis.Client
	keys   queueKeys
}

func NewProducer(redisClient *RedisClient, cfg *config.Config) *Producer {
	return &Producer{
		client: redisClient.Client(),
		keys:   newQueueKeys(cfg.Redis.PollQueue),
	}
}

// SchedulePoll sets the next poll of task.StudyID, replacing any pending one.
func (p *Producer) SchedulePoll(ctx context.Context, task model.PollTask) error {
	_, err := p.schedule(ctx, task, false)
	return err
}

// EnsurePoll schedules task only when the study has no pending or leased
// poll. It reports whether a poll was added.
func (p *Producer) EnsurePoll(ctx context.Context, task model.PollTask) (bool, error) {
	return p.schedule(ctx, task, true)
}

func (p *Producer) schedule(ctx context.Context, task model.PollTask, onlyIfAbsent bool) (bool, error) {
	nx := "0"
	if onlyIfAbsent {
		nx = "1"
	}
	added, err := scheduleScript.Run(ctx, p.client, p.keys.scheduleKeys(),
		task.StudyID, toMillis(task.NotBefore), task.TransientStreak, nx).Int()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

// queueKeys names the sorted set of due polls and its side structures.
type queueKeys struct {
	due     string
	streaks string
	gens    string
	seq     string
}

func newQueueKeys(base string) queueKeys {
	return queueKeys{
		due:     base,
		streaks: base + ":streak",
		gens:    base + ":gen",
		seq:     base + ":seq",
	}
}

func (k queueKeys) scheduleKeys() []string {
	return []string{k.due, k.streaks, k.gens, k.seq}
}

func (k queueKeys) memberKeys() []string {
	return []string{k.due, k.streaks, k.gens}
}
