package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.foreman.network/foreman/pkg/dispatch"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics config.
const (
	// ConfMetricsAddr is the Prometheus scrape listen address.
	// Empty disables the listener.
	ConfMetricsAddr = "metrics.addr"
)

func init() {
	viper.SetDefault(ConfMetricsAddr, "")
}

// NewDispatchMetrics registers the dispatcher counters on the default
// registerer and serves the scrape endpoint when an address is configured.
func NewDispatchMetrics(log *zap.Logger, lc fx.Lifecycle) *dispatch.Metrics {
	metrics := dispatch.NewMetrics(prometheus.DefaultRegisterer)
	addr := viper.GetString(ConfMetricsAddr)
	if addr == "" {
		return metrics
	}
	server := &http.Server{Addr: addr, Handler: promhttp.Handler()}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			log.Info("Serving metrics", zap.String(ConfMetricsAddr, addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return metrics
}
