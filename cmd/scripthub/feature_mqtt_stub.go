//go:build no_mqtt

package main

import (
	"log/slog"

	"scripthub/internal/hostapi"
	"scripthub/internal/token"
	"scripthub/internal/trigger"
)

type fabricBridge struct{}

func initTokenHandles(cfg *Config, logger *slog.Logger) (token.HandleProvider, *fabricBridge, error) {
	if cfg.MQTT.Enabled {
		logger.Warn("built without MQTT support, mqtt.enabled ignored")
	}
	return token.NewMemoryProvider(), nil, nil
}

func startMQTT(_ *fabricBridge, _ *trigger.Cards, _ *hostapi.LocalProvider, _ *slog.Logger) func() {
	return func() {}
}
