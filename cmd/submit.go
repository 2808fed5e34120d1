package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.foreman.network/foreman/pkg/appctx"
	"go.foreman.network/foreman/pkg/dispatch"
	"go.foreman.network/foreman/pkg/wire"
	"go.foreman.network/foreman/pkg/workersim"
	"go.uber.org/zap"
)

var submitCmd = cobra.Command{
	Use:   "submit <sum|concat>",
	Short: "Submit a demo job.",
	Long: "Submits a smoke-test job over the configured queue and prints the\n" +
		"reduced result. With --local-workers, simulated workers run in-process;\n" +
		"otherwise external workers must pull from the queue.",
	Args: cobra.ExactArgs(1),
	Run:  runSubmit,
}

var submitFlags struct {
	tasks        int
	twoLevel     bool
	localWorkers int
}

func init() {
	flags := submitCmd.Flags()
	flags.IntVar(&submitFlags.tasks, "tasks", 10, "Number of tasks")
	flags.BoolVar(&submitFlags.twoLevel, "two-level", false, "Pre-combine chunks on workers")
	flags.IntVar(&submitFlags.localWorkers, "local-workers", 0, "Simulated in-process workers")
	rootCmd.AddCommand(&submitCmd)
}

// Demo task bodies and combines, shared by the master job and the
// simulated workers. JSON numbers arrive as float64.
var demoCombines = map[string]dispatch.CombineFunc{
	"sum": func(acc, value interface{}) (interface{}, error) {
		a, ok := acc.(float64)
		if !ok {
			return nil, fmt.Errorf("unexpected accumulator %T", acc)
		}
		v, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("unexpected value %T", value)
		}
		return a + v, nil
	},
	"concat": func(acc, value interface{}) (interface{}, error) {
		a, ok := acc.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected accumulator %T", acc)
		}
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected value %T", value)
		}
		return a + v, nil
	},
}

func demoExecute(kind string) func(ctx context.Context, args wire.Args) (interface{}, error) {
	return func(ctx context.Context, args wire.Args) (interface{}, error) {
		index, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("unexpected argument %T", args[0])
		}
		if kind == "concat" {
			return strconv.Itoa(int(index)), nil
		}
		return index, nil
	}
}

func runSubmit(cmd *cobra.Command, args []string) {
	kind := args[0]
	combine, ok := demoCombines[kind]
	if !ok {
		log.Fatal("Unknown demo job", zap.String("kind", kind))
	}
	queue := queueFromEnv("")
	if queue == "" {
		log.Fatal("Missing queue name")
	}
	ctx, cancel := context.WithCancel(appctx.Context())
	defer cancel()
	master := masterFromEnv(queue)
	defer closeMaster(master)
	if submitFlags.twoLevel {
		master.SetReduce(dispatch.ReduceSpec{Mode: dispatch.ReduceSame})
	}
	for i := 0; i < submitFlags.localWorkers; i++ {
		token, err := uuid.NewV4()
		if err != nil {
			log.Fatal("Failed to generate worker token", zap.Error(err))
		}
		worker := &workersim.Worker{
			Log:      log.Named("worker"),
			Store:    master.Store,
			Queue:    queue,
			Token:    token.String(),
			Execute:  demoExecute(kind),
			Combines: demoCombines,
		}
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("Worker failed", zap.Error(err))
			}
		}()
	}
	result, err := master.Submit(ctx, &dispatch.Job{
		Expr:        []byte(kind),
		Source:      dispatch.IndexSource(submitFlags.tasks),
		Combine:     combine,
		CombineName: kind,
	})
	if err != nil {
		log.Fatal("Submission failed", zap.Error(err))
	}
	fmt.Println(result)
}
