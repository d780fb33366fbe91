package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// KEYS: ready zset, message hash, attempts hash
// ARGV: id, body, visible-at
var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

// KEYS: ready zset, message hash, attempts hash
// ARGV: now, lease deadline
var dequeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local body = redis.call('HGET', KEYS[2], id)
if not body then
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[3], id)
  return false
end
redis.call('ZADD', KEYS[1], ARGV[2], id)
local n = redis.call('HINCRBY', KEYS[3], id, 1)
return {id, body, n}
`)

// ownerCheck rejects a message whose body carries a token other than ARGV[2].
// An empty ARGV[2] matches any message.
const ownerCheck = `
local body = redis.call('HGET', KEYS[2], ARGV[1])
if body and ARGV[2] ~= '' and cjson.decode(body)['token'] ~= ARGV[2] then
  return -1
end
`

// KEYS: ready zset, message hash
// ARGV: id, token, visible-at
var rescheduleScript = redis.NewScript(ownerCheck + `
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
  return 1
end
return 0
`)

// KEYS: ready zset, message hash, attempts hash
// ARGV: id, token
var ackScript = redis.NewScript(ownerCheck + `
local n = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return n
`)

// RedisQueue implements the work queue on a sorted set scored by the time each
// message becomes visible.
type RedisQueue struct {
	client   redis.UniversalClient
	ready    string
	messages string
	attempts string
	now      func() time.Time
}

// NewRedisQueue returns a queue whose keys are prefixed with queue:{name}.
func NewRedisQueue(client redis.UniversalClient, name string) *RedisQueue {
	prefix := fmt.Sprintf("queue:%s:", name)
	return &RedisQueue{
		client:   client,
		ready:    prefix + "ready",
		messages: prefix + "msg",
		attempts: prefix + "attempts",
		now:      time.Now,
	}
}

func (q *RedisQueue) keys() []string {
	return []string{q.ready, q.messages, q.attempts}
}

func score(t time.Time) int64 { return t.UnixMilli() }

// Enqueue makes msg visible immediately. A job id already in the queue is
// rejected with ErrDuplicate.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	if msg.JobID == "" {
		return eris.New("message has no job id")
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = q.now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "encode message")
	}

	added, err := enqueueScript.Run(ctx, q.client, q.keys(), msg.JobID, body, score(q.now())).Int()
	if err != nil {
		return eris.Wrap(err, "enqueue")
	}
	if added == 0 {
		return eris.Wrapf(ErrDuplicate, "job %s", msg.JobID)
	}
	return nil
}

// Dequeue claims the earliest visible message and hides it for lease. It
// returns nil when nothing is visible.
func (q *RedisQueue) Dequeue(ctx context.Context, lease time.Duration) (*Delivery, error) {
	now := q.now()
	res, err := dequeueScript.Run(ctx, q.client, q.keys(), score(now), score(now.Add(lease))).Slice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "dequeue")
	}
	if len(res) != 3 {
		return nil, eris.Errorf("dequeue: unexpected reply of %d elements", len(res))
	}

	body, _ := res[1].(string)
	var d Delivery
	if err := json.Unmarshal([]byte(body), &d.Message); err != nil {
		return nil, eris.Wrap(err, "decode message")
	}
	switch n := res[2].(type) {
	case int64:
		d.Attempt = int(n)
	case string:
		d.Attempt, _ = strconv.Atoi(n)
	}
	return &d, nil
}

// Extend pushes the lease of a claimed message out to now+lease.
func (q *RedisQueue) Extend(ctx context.Context, jobID, token string, lease time.Duration) error {
	return q.reschedule(ctx, jobID, token, lease, "extend lease")
}

// Retry makes a claimed message visible again after delay.
func (q *RedisQueue) Retry(ctx context.Context, jobID, token string, delay time.Duration) error {
	return q.reschedule(ctx, jobID, token, delay, "retry")
}

func (q *RedisQueue) reschedule(ctx context.Context, jobID, token string, after time.Duration, op string) error {
	ok, err := rescheduleScript.Run(ctx, q.client, []string{q.ready, q.messages},
		jobID, token, score(q.now().Add(after))).Int()
	if err != nil {
		return eris.Wrap(err, op)
	}
	if ok != 1 {
		return eris.Wrapf(ErrNotQueued, "%s job %s", op, jobID)
	}
	return nil
}

// Ack removes a message once its job reached a terminal state. A message
// queued for another submission of the job is kept.
func (q *RedisQueue) Ack(ctx context.Context, jobID, token string) error {
	if _, err := ackScript.Run(ctx, q.client, q.keys(), jobID, token).Int(); err != nil {
		return eris.Wrap(err, "ack")
	}
	return nil
}

// Remove deletes a message whether or not it is claimed, and reports whether
// it was queued.
func (q *RedisQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	pipe := q.client.TxPipeline()
	removed := pipe.ZRem(ctx, q.ready, jobID)
	pipe.HDel(ctx, q.messages, jobID)
	pipe.HDel(ctx, q.attempts, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, eris.Wrap(err, "remove message")
	}
	return removed.Val() > 0, nil
}

// Len returns the number of messages, claimed or not.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.ready).Result()
	if err != nil {
		return 0, eris.Wrap(err, "queue length")
	}
	return n, nil
}
