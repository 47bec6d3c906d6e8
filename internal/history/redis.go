package history

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	wsflow:history:rec:<id>    JSON record blob
//	wsflow:history:node:<id>   zset of record ids, scored by creation time
//	wsflow:history:ids         zset of all record ids, for Clear
const (
	recKeyPrefix  = "wsflow:history:rec:"
	nodeKeyPrefix = "wsflow:history:node:"
	allKey        = "wsflow:history:ids"
)

// RedisStore persists execution records in Redis, surviving process
// restarts. It implements Store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given URL and verifies the
// connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func recKey(id string) string      { return recKeyPrefix + id }
func nodeKey(nodeID string) string { return nodeKeyPrefix + nodeID }

// Append inserts a record, assigning an id and timestamp when absent.
func (s *RedisStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("append: nil record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	blob, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	score := float64(rec.CreatedAt.UnixMilli())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recKey(rec.ID), blob, 0)
	pipe.ZAdd(ctx, nodeKey(rec.NodeID), redis.Z{Score: score, Member: rec.ID})
	pipe.ZAdd(ctx, allKey, redis.Z{Score: score, Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// Record fetches one record by id.
func (s *RedisStore) Record(ctx context.Context, id string) (*Record, error) {
	blob, err := s.client.Get(ctx, recKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("record '%s': %w", id, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	var rec Record
	if err := sonic.UnmarshalString(blob, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record '%s': %w", id, err)
	}
	return &rec, nil
}

// ListByNode returns a node's records, newest first.
func (s *RedisStore) ListByNode(ctx context.Context, nodeID string) ([]*Record, error) {
	ids, err := s.client.ZRevRange(ctx, nodeKey(nodeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records of node '%s': %w", nodeID, err)
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Record(ctx, id)
		if err != nil {
			// Index entry without a blob; skip rather than fail the listing.
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes one record and returns it.
func (s *RedisStore) Delete(ctx context.Context, id string) (*Record, error) {
	rec, err := s.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recKey(id))
	pipe.ZRem(ctx, nodeKey(rec.NodeID), id)
	pipe.ZRem(ctx, allKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete record '%s': %w", id, err)
	}
	return rec, nil
}

// DeleteByNode removes all of a node's records and returns them, newest
// first.
func (s *RedisStore) DeleteByNode(ctx context.Context, nodeID string) ([]*Record, error) {
	recs, err := s.ListByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	pipe := s.client.TxPipeline()
	for _, rec := range recs {
		pipe.Del(ctx, recKey(rec.ID))
		pipe.ZRem(ctx, allKey, rec.ID)
	}
	pipe.Del(ctx, nodeKey(nodeID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete records of node '%s': %w", nodeID, err)
	}
	return recs, nil
}

// Clear removes every record.
func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, allKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list record ids: %w", err)
	}
	pipe := s.client.TxPipeline()
	nodeKeys := make(map[string]struct{})
	for _, id := range ids {
		rec, err := s.Record(ctx, id)
		if err == nil {
			nodeKeys[nodeKey(rec.NodeID)] = struct{}{}
		}
		pipe.Del(ctx, recKey(id))
	}
	for k := range nodeKeys {
		pipe.Del(ctx, k)
	}
	pipe.Del(ctx, allKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
