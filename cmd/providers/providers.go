// Package providers holds fx constructors for shared components.
package providers

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Log is the global logger, built by the root command before any app starts.
var Log *zap.Logger

// Providers holds constructors for shared components.
var Providers = []interface{}{
	// providers.go
	NewContext,
	// store.go
	NewStore,
	// master.go
	NewMaster,
	// metrics.go
	NewDispatchMetrics,
}

// NewCmd adapts an fx invoke function into a cobra run function.
// The app runs until a signal arrives or the invoked component shuts it down.
func NewCmd(invoke interface{}) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		app := fx.New(
			fx.Provide(Providers...),
			fx.Supply(cmd),
			fx.Supply(args),
			fx.Supply(Log),
			fx.Logger(zap.NewStdLog(Log)),
			fx.Invoke(invoke),
		)
		app.Run()
	}
}

// NewContext returns a context canceled when the app stops.
func NewContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}
