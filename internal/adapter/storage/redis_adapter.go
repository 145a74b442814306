package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	messageKeyPrefix  = "msg:"
	idempotencyKeyTTL = 24 * time.Hour
)

// releaseScript deletes a claim only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
	owner  string
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		owner:  uuid.NewString(),
	}
}

// MessageKey identifies one delivery of a broker message.
func MessageKey(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s%s:%d:%d", messageKeyPrefix, topic, partition, offset)
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, r.owner, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, r.owner).Err()
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
