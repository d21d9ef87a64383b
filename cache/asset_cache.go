package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix      = "phuzzy:"
	verifiedPrefix = keyPrefix + "asset:verified:"
)

// AssetCache 把音频文件的存在性校验结果放在 Redis 里，多个进程共享，重启后不必重新探测
type AssetCache struct {
	client      *redis.Client
	positiveTTL time.Duration
}

// NewAssetCache client 为 nil 时使用全局 RedisClient；positiveTTL 为 0 表示存在的结果不过期
func NewAssetCache(client *redis.Client, positiveTTL time.Duration) *AssetCache {
	if client == nil {
		client = RedisClient
	}
	return &AssetCache{client: client, positiveTTL: positiveTTL}
}

// VerifiedKey 校验结果在 Redis 中的键
func VerifiedKey(path string) string {
	return verifiedPrefix + path
}

// Get found=false 表示没有记录
func (c *AssetCache) Get(ctx context.Context, path string) (exists bool, found bool, err error) {
	val, err := c.client.Get(ctx, VerifiedKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

// Put ttl 为 0 时使用 positiveTTL
func (c *AssetCache) Put(ctx context.Context, path string, exists bool, ttl time.Duration) error {
	val := "0"
	if exists {
		val = "1"
	}
	if ttl == 0 {
		ttl = c.positiveTTL
	}
	return c.client.Set(ctx, VerifiedKey(path), val, ttl).Err()
}

// Forget 删除某个路径的校验结果，文件被替换或删除后调用
func (c *AssetCache) Forget(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = VerifiedKey(p)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Count 当前保存的校验结果数量，SCAN 遍历
func (c *AssetCache) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, verifiedPrefix+"*", 100).Result()
		if err != nil {
			return total, err
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
