package redis

import (
	"context"
	"crypto/tls"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/zlnvch/pageboard/cache"
)

type RedisPageCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisPageCache connects to endpoint. Outside dev mode the connection
// uses TLS. A zero ttl keeps page keys forever.
func NewRedisPageCache(ctx context.Context, devMode bool, endpoint string, ttl time.Duration) (*RedisPageCache, error) {
	opts := &redis.Options{Addr: endpoint}
	if !devMode {
		// AWS elasticache endpoints require TLS
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisPageCacheFromClient(client, ttl), nil
}

func NewRedisPageCacheFromClient(client redis.UniversalClient, ttl time.Duration) *RedisPageCache {
	return &RedisPageCache{client: client, ttl: ttl}
}

func (redisCache *RedisPageCache) Close() error {
	return redisCache.client.Close()
}

func (redisCache *RedisPageCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

// Subscribe delivers messages on channel to handler until ctx is done.
func (redisCache *RedisPageCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Warn("Pubsub subscribe failed", "channel", channel, "err", err)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Keys of one page share a hash tag so they land in the same cluster slot.
func buildPageKey(page int) string {
	return "page:{" + strconv.Itoa(page) + "}"
}

func buildPageDataKey(page int) string {
	return buildPageKey(page) + ":data"
}

func buildPageCompleteKey(page int) string {
	return buildPageKey(page) + ":complete"
}

func (redisCache *RedisPageCache) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if redisCache.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, redisCache.ttl)
	}
}

// A page is stored as two structures:
//   - ZSet "page:{n}" holds action ids scored by creation time, so order and
//     trimming never touch the payloads.
//   - Hash "page:{n}:data" maps action id to the JSON payload.
func (redisCache *RedisPageCache) AddAction(ctx context.Context, page int, actionId string, score int64, actionData []byte) error {
	key := buildPageKey(page)
	dataKey := buildPageDataKey(page)
	completeKey := buildPageCompleteKey(page)

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: actionId})
	pipe.HSet(ctx, dataKey, actionId, actionData)
	redisCache.expire(ctx, pipe, completeKey, key, dataKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisPageCache) AddActionsBatch(ctx context.Context, page int, actions []cache.ActionCacheItem) error {
	if len(actions) == 0 {
		return nil
	}

	key := buildPageKey(page)
	dataKey := buildPageDataKey(page)
	completeKey := buildPageCompleteKey(page)

	zMembers := make([]redis.Z, len(actions))
	hValues := make([]interface{}, len(actions)*2)

	for i, a := range actions {
		zMembers[i] = redis.Z{
			Score:  float64(a.Score),
			Member: a.ActionId,
		}
		hValues[i*2] = a.ActionId
		hValues[i*2+1] = a.Data
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, zMembers...)
	pipe.HSet(ctx, dataKey, hValues...)
	redisCache.expire(ctx, pipe, completeKey, key, dataKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisPageCache) GetPageActionCount(ctx context.Context, page int) (int64, error) {
	return redisCache.client.ZCard(ctx, buildPageKey(page)).Result()
}

// GetActions returns the newest limit payloads of page, oldest first.
func (redisCache *RedisPageCache) GetActions(ctx context.Context, page int, limit int) ([][]byte, error) {
	key := buildPageKey(page)
	dataKey := buildPageDataKey(page)
	completeKey := buildPageCompleteKey(page)

	ids, err := redisCache.client.ZRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	values, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	actions := make([][]byte, 0, len(ids))
	for _, item := range values {
		if s, ok := item.(string); ok {
			actions = append(actions, []byte(s))
		}
	}

	pipe := redisCache.client.Pipeline()
	redisCache.expire(ctx, pipe, completeKey, key, dataKey)
	if redisCache.ttl > 0 {
		_, _ = pipe.Exec(ctx)
	}

	return actions, nil
}

func (redisCache *RedisPageCache) ClearPage(ctx context.Context, page int) error {
	return redisCache.client.Del(ctx, buildPageKey(page), buildPageDataKey(page), buildPageCompleteKey(page)).Err()
}

func (redisCache *RedisPageCache) SetPageComplete(ctx context.Context, page int) error {
	ttl := redisCache.ttl
	if ttl < 0 {
		ttl = 0
	}
	return redisCache.client.Set(ctx, buildPageCompleteKey(page), "true", ttl).Err()
}

func (redisCache *RedisPageCache) IsPageComplete(ctx context.Context, page int) (bool, error) {
	val, err := redisCache.client.Exists(ctx, buildPageCompleteKey(page)).Result()
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

var _ cache.PageCache = (*RedisPageCache)(nil)
