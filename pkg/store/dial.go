package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// Options configure the store connection.
type Options struct {
	Network  string // "tcp" or "unix"
	Addr     string
	Password string
	DB       int
	// DialTimeout bounds the total time spent pinging with backoff.
	// Zero means DefaultDialTimeout.
	DialTimeout time.Duration
}

// DefaultDialTimeout bounds connection establishment in Dial.
const DefaultDialTimeout = 15 * time.Second

// Dial opens a connection to the store and verifies it with a ping,
// retrying with exponential backoff until the dial timeout elapses.
func Dial(ctx context.Context, log *zap.Logger, opts Options) (*Store, error) {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	log.Info("Connecting to store",
		zap.String("store.network", opts.Network),
		zap.String("store.addr", opts.Addr),
		zap.Int("store.db", opts.DB))
	client := redis.NewClient(&redis.Options{
		Network:  opts.Network,
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	ping := func() error {
		return client.Ping(ctx).Err()
	}
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return &Store{Redis: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.Redis.Close()
}
