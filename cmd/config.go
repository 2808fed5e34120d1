package main

import (
	"github.com/spf13/viper"
	"go.foreman.network/foreman/cmd/providers"
	"go.foreman.network/foreman/pkg/dispatch"
	"go.foreman.network/foreman/pkg/store"
)

// Config keys and defaults live in cmd/providers; the direct-run commands
// below read the same environment the fx apps do.

func storeOptionsFromEnv() store.Options {
	return providers.StoreOptionsFromEnv()
}

func masterOptionsFromEnv() dispatch.Options {
	return providers.MasterOptionsFromEnv()
}

func queueFromEnv(cmdArg string) string {
	if cmdArg != "" {
		return cmdArg
	}
	return viper.GetString(providers.ConfQueue)
}
