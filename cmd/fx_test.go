package main

import (
	"testing"

	"go.foreman.network/foreman/cmd/providers/providerstest"
	"go.uber.org/fx"
)

func TestWorkerApp(t *testing.T) {
	providerstest.Validate(t, fx.Invoke(runWorker))
}
