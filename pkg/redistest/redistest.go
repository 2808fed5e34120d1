// Package redistest runs an ephemeral Redis server for end-to-end tests.
package redistest

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.foreman.network/foreman/pkg/exectest"
	"go.foreman.network/foreman/pkg/store"
)

// Redis is a Redis server subprocess and a client connected to it.
type Redis struct {
	Cmd    *exec.Cmd
	Client *redis.Client

	bg      *exectest.Background
	tempDir string
}

// NewRedis starts an ephemeral Redis server on a Unix socket and returns a
// connected client. The server logs through the test.
func NewRedis(ctx context.Context, t testing.TB) *Redis {
	dir, err := os.MkdirTemp("", "redistest-")
	if err != nil {
		panic("failed to get temp dir: " + err.Error())
	}
	socket := filepath.Join(dir, "redis.sock")
	redisCmd := exec.CommandContext(ctx, "redis-server",
		"--port", "0",
		"--unixsocket", socket,
		"--unixsocketperm", "700",
		"--loglevel", "verbose")
	redisCmd.Dir = dir
	bg := exectest.NewBackground(t, redisCmd)
	bg.Name = "redis"
	bg.LogStdout = true
	bg.LogStderr = true
	bg.Start()
	client := redis.NewClient(&redis.Options{
		Network: "unix",
		Addr:    socket,
	})
	// Poll until the server accepts pings or dies.
	startupTicker := time.NewTicker(100 * time.Millisecond)
	defer startupTicker.Stop()
	var pingErr error
tryLoop:
	for try := 0; try < 30; try++ {
		if try > 0 {
			select {
			case <-startupTicker.C:
				break
			case <-bg.Done():
				break tryLoop
			}
		}
		pingErr = client.Ping(ctx).Err()
		if errors.Is(pingErr, redis.ErrClosed) {
			continue // server still starting
		} else if errors.Is(pingErr, os.ErrNotExist) {
			continue // socket not created yet
		} else if pingErr != nil {
			t.Fatal("Failed to ping Redis:", pingErr.Error())
		}
		t.Log("redistest: Redis is up")
		return &Redis{
			Cmd:    redisCmd,
			Client: client,

			bg:      bg,
			tempDir: dir,
		}
	}
	if err := bg.Err(); err != nil {
		t.Fatal("Subprocess failed:", err)
	}
	t.Fatal("Failed to ping Redis:", pingErr)
	return nil
}

// Store returns a store facade over the test server.
func (r *Redis) Store() *store.Store {
	return &store.Store{Redis: r.Client}
}

// Close shuts down the server and client and removes the server directory.
func (r *Redis) Close(t testing.TB) {
	t.Log("redistest: Removing", r.tempDir)
	_ = r.Client.Close()
	r.bg.Close()
	_ = os.RemoveAll(r.tempDir)
}
