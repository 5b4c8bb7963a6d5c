package extractcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ragcore/internal/kg"
)

// Redis is a Cache backed by a Redis instance: one key per cache entry,
// plus a project+chunk set index to support ListByChunk/DeleteByChunk
// without a full scan.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a Redis-backed Cache using client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func entryKey(projectID string, cacheType kg.CacheType, contentHash string) string {
	return fmt.Sprintf("extractcache:%s:%s:%s", projectID, cacheType, contentHash)
}

func chunkIndexKey(projectID, chunkID string) string {
	return fmt.Sprintf("extractcache:chunk:%s:%s", projectID, chunkID)
}

func (r *Redis) Get(ctx context.Context, projectID string, cacheType kg.CacheType, contentHash string) (kg.ExtractionCacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, entryKey(projectID, cacheType, contentHash)).Result()
	if err == redis.Nil {
		return kg.ExtractionCacheEntry{}, false, nil
	}
	if err != nil {
		return kg.ExtractionCacheEntry{}, false, err
	}
	var e kg.ExtractionCacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return kg.ExtractionCacheEntry{}, false, err
	}
	return e, true, nil
}

func (r *Redis) Put(ctx context.Context, entry kg.ExtractionCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entryKey(entry.ProjectID, entry.CacheType, entry.ContentHash), data, 0)
	pipe.SAdd(ctx, chunkIndexKey(entry.ProjectID, entry.ChunkID), entryKey(entry.ProjectID, entry.CacheType, entry.ContentHash))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) ListByChunk(ctx context.Context, projectID, chunkID string) ([]kg.ExtractionCacheEntry, error) {
	keys, err := r.client.SMembers(ctx, chunkIndexKey(projectID, chunkID)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]kg.ExtractionCacheEntry, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e kg.ExtractionCacheEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Redis) DeleteByChunk(ctx context.Context, projectID, chunkID string) error {
	idxKey := chunkIndexKey(projectID, chunkID)
	keys, err := r.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, idxKey)
	_, err = pipe.Exec(ctx)
	return err
}

var _ Cache = (*Redis)(nil)
