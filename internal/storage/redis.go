package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"talent-search-go/internal/config"
	"talent-search-go/internal/constants"
	"talent-search-go/internal/tracing"
	"talent-search-go/internal/types"
)

// ErrNotFound is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("talent-search-go/storage/redis")

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// FormatKey 用具体标识填充 constants 包中的键模板
func (r *Redis) FormatKey(keyTemplate string, id string) string {
	return fmt.Sprintf(keyTemplate, id)
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// CacheSearchResults 将完整的、排序后的候选人user_id列表缓存到Redis的ZSET中。
// 同一查询的翻页请求直接走缓存, 不再重复嵌入和向量检索。
func (r *Redis) CacheSearchResults(ctx context.Context, queryHash string, results []types.SearchResult, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	if len(results) == 0 {
		return nil // 不缓存空结果
	}

	key := r.FormatKey(constants.KeySearchSession, queryHash)
	scoresKey := r.FormatKey(constants.KeySearchScores, queryHash)

	pipe := r.Client.Pipeline()

	// 先删除旧的key, 确保缓存是最新的
	pipe.Del(ctx, key)
	pipe.Del(ctx, scoresKey)

	// 使用倒序排名作为分数, ZREVRANGE 按分数从高到低取出即原始排名;
	// 相似度分数另存HASH, 翻页时按userID回填
	members := make([]redis.Z, len(results))
	scoreFields := make(map[string]interface{}, len(results))
	for i, res := range results {
		members[i] = redis.Z{
			Score:  float64(len(results) - i),
			Member: res.UserID,
		}
		scoreFields[res.UserID] = strconv.FormatFloat(float64(res.Score), 'g', -1, 32)
	}

	pipe.ZAdd(ctx, key, members...)
	pipe.HSet(ctx, scoresKey, scoreFields)
	pipe.Expire(ctx, key, ttl)
	pipe.Expire(ctx, scoresKey, ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// GetCachedSearchResults 从Redis ZSET中获取分页的搜索结果user_id,
// 并从分数HASH中回填每个user_id的相似度。
func (r *Redis) GetCachedSearchResults(ctx context.Context, queryHash string, cursor, limit int64) (userIDs []string, scores map[string]float32, totalCount int64, err error) {
	key := r.FormatKey(constants.KeySearchSession, queryHash)
	scoresKey := r.FormatKey(constants.KeySearchScores, queryHash)

	ctx, span := redisTracer.Start(ctx, "GetCachedSearchResults", trace.WithAttributes(
		semconv.DBSystemRedis,
		attribute.String("redis.key", tracing.SafeRedisKey(key)),
		attribute.Int64("redis.cursor", cursor),
		attribute.Int64("redis.limit", limit),
	))
	defer span.End()

	pipe := r.Client.Pipeline()
	countCmd := pipe.ZCard(ctx, key)
	rangeCmd := pipe.ZRevRange(ctx, key, cursor, cursor+limit-1)
	_, err = pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		return nil, nil, 0, err
	}

	userIDs, err = rangeCmd.Result()
	if err != nil {
		span.RecordError(err)
		return nil, nil, 0, fmt.Errorf("failed to get cached search user IDs: %w", err)
	}

	totalCount, err = countCmd.Result()
	if err != nil {
		return userIDs, nil, 0, err
	}

	if len(userIDs) > 0 {
		vals, hmErr := r.Client.HMGet(ctx, scoresKey, userIDs...).Result()
		if hmErr != nil && hmErr != redis.Nil {
			// 分数HASH丢失不影响排名, 结果照常返回
			span.RecordError(hmErr)
		} else {
			scores = make(map[string]float32, len(userIDs))
			for i, val := range vals {
				raw, ok := val.(string)
				if !ok {
					continue
				}
				if f, parseErr := strconv.ParseFloat(raw, 32); parseErr == nil {
					scores[userIDs[i]] = float32(f)
				}
			}
		}
	}

	return userIDs, scores, totalCount, nil
}

// AcquireLock 尝试获取一个分布式锁, 成功时返回锁持有者标识,
// 锁已被占用时返回空字符串
func (r *Redis) AcquireLock(ctx context.Context, scope string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockKey := r.FormatKey(constants.KeySyncLock, scope)
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseLock 释放一个分布式锁, 使用Lua脚本保证原子性
func (r *Redis) ReleaseLock(ctx context.Context, scope string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	lockKey := r.FormatKey(constants.KeySyncLock, scope)
	// 如果key存在且值匹配则删除
	script := `
        if redis.call("get", KEYS[1]) == ARGV[1] then
            return redis.call("del", KEYS[1])
        else
            return 0
        end
    `
	res, err := r.Client.Eval(ctx, script, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}

	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}

	return false, nil // 锁不存在或不属于当前持有者
}

// SetAuthVerdict 缓存外部会话校验结论 ("ok"或"denied")
func (r *Redis) SetAuthVerdict(ctx context.Context, tokenHash string, verdict string, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	key := r.FormatKey(constants.KeyAuthVerdict, tokenHash)
	return r.Client.Set(ctx, key, verdict, ttl).Err()
}

// GetAuthVerdict 读取缓存的会话校验结论, 未命中返回 ErrNotFound
func (r *Redis) GetAuthVerdict(ctx context.Context, tokenHash string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	key := r.FormatKey(constants.KeyAuthVerdict, tokenHash)
	return r.Client.Get(ctx, key).Result()
}
