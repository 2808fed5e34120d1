// Package appctx provides the application context canceled by interrupts.
package appctx

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var once sync.Once
var ctx context.Context

// Context returns the application context. It closes on SIGINT or SIGTERM.
// Repeated calls return the same context object.
func Context() context.Context {
	once.Do(func() {
		ctx, _ = signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
	})
	return ctx
}
