package main

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.foreman.network/foreman/cmd/providers"
	"go.foreman.network/foreman/pkg/store"
	"go.foreman.network/foreman/pkg/workersim"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var workerCmd = cobra.Command{
	Use:   "worker <sum|concat>",
	Short: "Run simulated demo workers.",
	Long: "Runs in-process simulated workers pulling from the configured queue.\n" +
		"Workers exit when the queue is removed or on interrupt.",
	Args: cobra.ExactArgs(1),
	Run:  providers.NewCmd(runWorker),
}

func init() {
	flags := workerCmd.Flags()
	flags.Int("workers", 1, "Simulated worker count")
	rootCmd.AddCommand(&workerCmd)
}

func runWorker(
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	ctx context.Context,
	cmd *cobra.Command,
	args []string,
	log *zap.Logger,
	st *store.Store,
) {
	kind := args[0]
	if _, ok := demoCombines[kind]; !ok {
		log.Fatal("Unknown demo job", zap.String("kind", kind))
	}
	queue := viper.GetString(providers.ConfQueue)
	if queue == "" {
		log.Fatal("Missing " + providers.ConfQueue)
	}
	count, err := cmd.Flags().GetInt("workers")
	if err != nil {
		panic(err)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			for i := 0; i < count; i++ {
				token, err := uuid.NewV4()
				if err != nil {
					return err
				}
				worker := &workersim.Worker{
					Log:      log.Named("worker"),
					Store:    st,
					Queue:    queue,
					Token:    token.String(),
					Execute:  demoExecute(kind),
					Combines: demoCombines,
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := worker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
						log.Error("Worker failed", zap.Error(err))
					}
				}()
			}
			go func() {
				// All workers exiting means the queue is gone.
				wg.Wait()
				if workerCtx.Err() == nil {
					log.Info("All workers stopped")
					if err := shutdown.Shutdown(); err != nil {
						log.Error("Shutdown failed", zap.Error(err))
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	})
	log.Info("Starting workers",
		zap.String("queue", queue),
		zap.Int("workers", count),
		zap.String("kind", kind))
}
