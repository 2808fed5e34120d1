package providers

import (
	"context"

	"github.com/spf13/viper"
	"go.foreman.network/foreman/pkg/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Store config.
const (
	ConfRedisNetwork  = "redis.network"
	ConfRedisAddr     = "redis.addr"
	ConfRedisDB       = "redis.db"
	ConfRedisPassword = "redis.password"
)

func init() {
	viper.SetDefault(ConfRedisNetwork, "tcp")
	viper.SetDefault(ConfRedisAddr, "localhost:6379")
	viper.SetDefault(ConfRedisDB, 0)
	viper.SetDefault(ConfRedisPassword, "")
}

// StoreOptionsFromEnv reads the store connection options from viper.
func StoreOptionsFromEnv() store.Options {
	return store.Options{
		Network:  viper.GetString(ConfRedisNetwork),
		Addr:     viper.GetString(ConfRedisAddr),
		Password: viper.GetString(ConfRedisPassword),
		DB:       viper.GetInt(ConfRedisDB),
	}
}

// NewStore dials the shared store and closes it when the app stops.
func NewStore(ctx context.Context, log *zap.Logger, lc fx.Lifecycle) (*store.Store, error) {
	st, err := store.Dial(ctx, log, StoreOptionsFromEnv())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			log.Info("Closing store connection")
			err := st.Close()
			if err != nil {
				log.Error("Failed to close store connection", zap.Error(err))
			}
			return err
		},
	})
	return st, nil
}
