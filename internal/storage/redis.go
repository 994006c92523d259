package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/audiolibrelab/spatialrec/internal/session"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps metadata as JSON strings, blobs as raw values and a
// sorted set of IDs scored by timestamp.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(rdb, opts.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "spatialrec"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":recordings"
}

func (s *RedisStore) metaKey(id string) string {
	return s.prefix + ":recording:" + id + ":meta"
}

func (s *RedisStore) blobKey(id string) string {
	return s.prefix + ":recording:" + id + ":wav"
}

func (s *RedisStore) SaveBlob(ctx context.Context, id string, data []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.blobKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store blob %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) SaveMetadata(ctx context.Context, rec *session.Recording) error {
	if err := validID(rec.ID); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s: %w", rec.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.metaKey(rec.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(rec.Timestamp.UnixMilli()),
			Member: rec.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store metadata %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Blob(ctx context.Context, id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.blobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

func (s *RedisStore) Metadata(ctx context.Context, id string) (*session.Recording, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata %s: %w", id, err)
	}
	var rec session.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode metadata %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, s.metaKey(id), s.blobKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete recording %s: %w", id, err)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]*session.Recording, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	if len(ids) == 0 {
		return []*session.Recording{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.metaKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	recs := make([]*session.Recording, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// index entry without metadata
			continue
		}
		var rec session.Recording
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode metadata %s: %w", ids[i], err)
		}
		recs = append(recs, &rec)
	}
	sortByTimestamp(recs)
	return recs, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list recordings: %w", err)
	}

	var result *multierror.Error
	for _, id := range ids {
		if err := s.client.Del(ctx, s.metaKey(id), s.blobKey(id)).Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("recording %s: %w", id, err))
		}
	}
	if err := s.client.Del(ctx, s.indexKey()).Err(); err != nil {
		result = multierror.Append(result, fmt.Errorf("index: %w", err))
	}
	return result.ErrorOrNil()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
