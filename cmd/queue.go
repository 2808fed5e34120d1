package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.foreman.network/foreman/cmd/providers"
	"go.foreman.network/foreman/pkg/appctx"
	"go.foreman.network/foreman/pkg/dispatch"
	"go.uber.org/zap"
)

var queueCmd = cobra.Command{
	Use:   "queue",
	Short: "Manage shared work queues.",
}

var queueRegisterCmd = cobra.Command{
	Use:   "register <queue>",
	Short: "Register a queue.",
	Long: "Opens the store connection and marks the queue live.\n" +
		"Workers polling the queue observe the liveness sentinel and keep pulling.",
	Args: cobra.MaximumNArgs(1),
	Run:  runQueueRegister,
}

var queueRemoveCmd = cobra.Command{
	Use:   "remove <queue>",
	Short: "Tear a queue down.",
	Long: "Deletes the pending list, all job envelopes and result lists,\n" +
		"the worker counter and the liveness sentinel. Idempotent.",
	Args: cobra.MaximumNArgs(1),
	Run:  runQueueRemove,
}

var queueInfoCmd = cobra.Command{
	Use:   "info <workers|name|version>",
	Short: "Query dispatcher info.",
	Args:  cobra.ExactArgs(1),
	Run:   runQueueInfo,
}

func init() {
	queueCmd.AddCommand(&queueRegisterCmd, &queueRemoveCmd, &queueInfoCmd)
	rootCmd.AddCommand(&queueCmd)
}

func masterFromEnv(queue string) *dispatch.Master {
	ctx := appctx.Context()
	opts := masterOptionsFromEnv()
	master, err := dispatch.Register(ctx, log, dispatch.RegisterOptions{
		Queue:     queue,
		Options:   storeOptionsFromEnv(),
		ChunkSize: viper.GetInt(providers.ConfChunkSize),
	})
	if err != nil {
		log.Fatal("Failed to register queue", zap.Error(err))
	}
	master.Options = &opts
	return master
}

func runQueueRegister(cmd *cobra.Command, args []string) {
	queue := queueFromEnv(argOrEmpty(args))
	if queue == "" {
		log.Fatal("Missing queue name")
	}
	master := masterFromEnv(queue)
	defer closeMaster(master)
}

func runQueueRemove(cmd *cobra.Command, args []string) {
	queue := queueFromEnv(argOrEmpty(args))
	if queue == "" {
		log.Fatal("Missing queue name")
	}
	master := masterFromEnv(queue)
	defer closeMaster(master)
	if err := master.RemoveQueue(appctx.Context()); err != nil {
		log.Fatal("Failed to remove queue", zap.Error(err))
	}
}

func runQueueInfo(cmd *cobra.Command, args []string) {
	item := args[0]
	// Name and version need no store connection.
	switch item {
	case dispatch.InfoName:
		fmt.Println(dispatch.Name)
		return
	case dispatch.InfoVersion:
		fmt.Println(dispatch.Version)
		return
	}
	queue := queueFromEnv("")
	if queue == "" {
		log.Fatal("Missing queue name")
	}
	master := masterFromEnv(queue)
	defer closeMaster(master)
	value, err := master.Info(appctx.Context(), item)
	if err != nil {
		log.Fatal("Info query failed", zap.Error(err))
	}
	fmt.Println(value)
}

func argOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func closeMaster(master *dispatch.Master) {
	log.Info("Closing store connection")
	if err := master.Close(); err != nil {
		log.Error("Failed to close store connection", zap.Error(err))
	}
}
