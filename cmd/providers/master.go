package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.foreman.network/foreman/pkg/dispatch"
	"go.foreman.network/foreman/pkg/store"
	"go.uber.org/zap"
)

// Master config.
const (
	ConfQueue       = "foreman.queue"
	ConfChunkSize   = "foreman.chunk_size"
	ConfFTInterval  = "foreman.ft_interval"
	ConfMaxEnvelope = "foreman.max_envelope"
)

func init() {
	viper.SetDefault(ConfQueue, "")
	viper.SetDefault(ConfChunkSize, 1)
	viper.SetDefault(ConfFTInterval, 30*time.Second)
	viper.SetDefault(ConfMaxEnvelope, int64(dispatch.DefaultMaxEnvelope))
}

// MasterOptionsFromEnv reads the master options from viper.
func MasterOptionsFromEnv() dispatch.Options {
	opts := dispatch.DefaultOptions
	opts.FTInterval = viper.GetDuration(ConfFTInterval)
	opts.MaxEnvelope = viper.GetInt64(ConfMaxEnvelope)
	return opts
}

// NewMaster registers the configured queue on the shared store.
func NewMaster(
	ctx context.Context,
	log *zap.Logger,
	st *store.Store,
	metrics *dispatch.Metrics,
) (*dispatch.Master, error) {
	queue := viper.GetString(ConfQueue)
	if queue == "" {
		return nil, fmt.Errorf("missing %s", ConfQueue)
	}
	opts := MasterOptionsFromEnv()
	master := dispatch.NewMaster(log, st, &opts)
	master.Metrics = metrics
	if err := master.RegisterQueue(ctx, queue, viper.GetInt(ConfChunkSize)); err != nil {
		return nil, err
	}
	return master, nil
}
