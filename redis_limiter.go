package privateblog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reserveScript prunes the set, and adds the attempt only while the count
// is under the threshold, all inside one server-side call.
//
//	KEYS[1] attempt set
//	ARGV    cutoff, now, max, member, window in ms
var reserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisLimiter is a Limiter whose attempt log lives in Redis, one sorted
// set per IP scored by attempt time, so several instances share one
// throttle. Keys expire one window after the last failure.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a RedisLimiter with the same semantics as
// LoginLimiter.
func NewRedisLimiter(client redis.UniversalClient, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "privateblog:login_attempts:",
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) key(ip string) string {
	return l.prefix + ip
}

// Limited prunes attempts older than the window and compares the rest
// with the threshold.
func (l *RedisLimiter) Limited(ctx context.Context, ip string) (bool, error) {
	key := l.key(ip)
	cutoff := l.now().Add(-l.window).UnixMicro()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("read login attempts: %w", err)
	}
	return card.Val() >= int64(l.max), nil
}

// RecordFailure adds one attempt for ip.
func (l *RedisLimiter) RecordFailure(ctx context.Context, ip string) error {
	key := l.key(ip)
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(l.now().UnixMicro()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// Reserve implements Limiter with a Lua script so concurrent logins from
// one IP, on any instance, cannot all pass the threshold.
func (l *RedisLimiter) Reserve(ctx context.Context, ip string) (string, bool, error) {
	now := l.now()
	member := uuid.NewString()
	ok, err := reserveScript.Run(ctx, l.client, []string{l.key(ip)},
		now.Add(-l.window).UnixMicro(),
		now.UnixMicro(),
		l.max,
		member,
		l.window.Milliseconds(),
	).Int()
	if err != nil {
		return "", false, fmt.Errorf("reserve login attempt: %w", err)
	}
	if ok == 0 {
		return "", false, nil
	}
	return member, true, nil
}

// Release implements Limiter.
func (l *RedisLimiter) Release(ctx context.Context, ip, ticket string) error {
	if err := l.client.ZRem(ctx, l.key(ip), ticket).Err(); err != nil {
		return fmt.Errorf("release login attempt: %w", err)
	}
	return nil
}
