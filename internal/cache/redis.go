// Package cache は検索件数のRedisキャッシュを提供する。
// キャッシュ障害は検索を止めない。すべてのエラーはミス扱いにして
// ログへ記録するだけで、呼び出し元へは伝播させない。
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// overflowSentinel は「100件超」を表すキャッシュ値。
// 正確な件数（nil）と未キャッシュを区別するために使う。
const overflowSentinel = "overflow"

// NewClient はRedisクライアントを生成し、疎通を確認する。
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("Redis URLの解析に失敗しました: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗しました: %w", err)
	}
	return client, nil
}

// RedisCountCache は件数プローブの結果をクエリハッシュ単位で保持する。
type RedisCountCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCountCache はRedisCountCacheを生成する。
func NewRedisCountCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCountCache {
	return &RedisCountCache{client: client, ttl: ttl, logger: logger}
}

// Get はクエリハッシュに対応する件数を取得する。
// 2値目は値が存在したかどうか。1値目のnilは「100件超」を意味する。
func (c *RedisCountCache) Get(ctx context.Context, queryHash string) (*int, bool) {
	val, err := c.client.Get(ctx, countKey(queryHash)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("件数キャッシュの取得に失敗しました",
			slog.String("query_hash", queryHash),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	count, err := decodeCount(val)
	if err != nil {
		c.logger.Warn("件数キャッシュの値が不正です",
			slog.String("query_hash", queryHash),
			slog.String("value", val),
		)
		return nil, false
	}
	return count, true
}

// Set はクエリハッシュに対応する件数を保存する。countのnilは「100件超」。
func (c *RedisCountCache) Set(ctx context.Context, queryHash string, count *int) {
	if err := c.client.Set(ctx, countKey(queryHash), encodeCount(count), c.ttl).Err(); err != nil {
		c.logger.Warn("件数キャッシュの保存に失敗しました",
			slog.String("query_hash", queryHash),
			slog.String("error", err.Error()),
		)
	}
}

func countKey(queryHash string) string {
	return fmt.Sprintf("search:count:%s", queryHash)
}

func encodeCount(count *int) string {
	if count == nil {
		return overflowSentinel
	}
	return strconv.Itoa(*count)
}

func decodeCount(val string) (*int, error) {
	if val == overflowSentinel {
		return nil, nil
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &count, nil
}
