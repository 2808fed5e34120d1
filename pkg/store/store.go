// Package store is a thin typed facade over the shared key/value store.
//
// Values are opaque blobs; the facade never inspects them. Multi-command
// sequences that must execute atomically go through the Batch scope, which
// buffers commands onto a transactional pipeline (MULTI/EXEC) and executes
// them in one round trip, replies in submission order.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store wraps a Redis client with the primitive operations masters need.
type Store struct {
	Redis *redis.Client
}

// Get reads a key. Returns ok=false if the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	buf, err := s.Redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// Set writes a key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.Redis.Set(ctx, key, value, 0).Err()
}

// Del removes keys. Missing keys are ignored.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.Redis.Del(ctx, keys...).Err()
}

// Exists reports whether a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys scans for keys matching a glob pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.Redis.Keys(ctx, pattern).Result()
}

// MGet reads many keys at once. Missing keys yield nil entries.
func (s *Store) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	bufs := make([][]byte, len(vals))
	for i, val := range vals {
		if str, ok := val.(string); ok {
			bufs[i] = []byte(str)
		}
	}
	return bufs, nil
}

// RPush appends values to the tail of a list.
func (s *Store) RPush(ctx context.Context, list string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	return s.Redis.RPush(ctx, list, byteArgs(values)...).Err()
}

// LPush prepends values to the head of a list.
func (s *Store) LPush(ctx context.Context, list string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	return s.Redis.LPush(ctx, list, byteArgs(values)...).Err()
}

// BRPop blocks until a value can be popped from the tail of the list,
// or the timeout elapses. Returns ok=false on timeout.
func (s *Store) BRPop(ctx context.Context, list string, timeout time.Duration) ([]byte, bool, error) {
	res, err := s.Redis.BRPop(ctx, timeout, list).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	// BRPOP replies [key, value].
	return []byte(res[1]), true, nil
}

// BLPop blocks until a value can be popped from the head of the list,
// or the timeout elapses. Returns ok=false on timeout.
func (s *Store) BLPop(ctx context.Context, list string, timeout time.Duration) ([]byte, bool, error) {
	res, err := s.Redis.BLPop(ctx, timeout, list).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return []byte(res[1]), true, nil
}

// LLen returns the length of a list.
func (s *Store) LLen(ctx context.Context, list string) (int64, error) {
	return s.Redis.LLen(ctx, list).Result()
}

// LRange reads a list slice by index range, both bounds inclusive.
func (s *Store) LRange(ctx context.Context, list string, start, stop int64) ([][]byte, error) {
	vals, err := s.Redis.LRange(ctx, list, start, stop).Result()
	if err != nil {
		return nil, err
	}
	bufs := make([][]byte, len(vals))
	for i, val := range vals {
		bufs[i] = []byte(val)
	}
	return bufs, nil
}

// Batch buffers the commands issued by fn onto a transactional pipeline
// and executes them atomically in one round trip.
// Reply handles filled by commands inside fn are valid after Batch returns.
func (s *Store) Batch(ctx context.Context, fn func(b *Batch) error) error {
	pipe := s.Redis.TxPipeline()
	if err := fn(&Batch{pipe: pipe}); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Batch is a buffered transactional command scope.
type Batch struct {
	pipe redis.Pipeliner
}

// Set buffers a SET.
func (b *Batch) Set(key string, value []byte) {
	b.pipe.Set(context.Background(), key, value, 0)
}

// Del buffers a DEL.
func (b *Batch) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.pipe.Del(context.Background(), keys...)
}

// RPush buffers an RPUSH.
func (b *Batch) RPush(list string, values ...[]byte) {
	if len(values) == 0 {
		return
	}
	b.pipe.RPush(context.Background(), list, byteArgs(values)...)
}

// LRange buffers an LRANGE and returns its reply handle.
func (b *Batch) LRange(list string, start, stop int64) *redis.StringSliceCmd {
	return b.pipe.LRange(context.Background(), list, start, stop)
}

func byteArgs(values [][]byte) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
