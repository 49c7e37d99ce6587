//go:build !no_mqtt

package main

import (
	"log/slog"

	"scripthub/internal/hostapi"
	"scripthub/internal/mqtt"
	"scripthub/internal/token"
	"scripthub/internal/trigger"
)

type fabricBridge = mqtt.Bridge

// initTokenHandles picks the token handle provider: the MQTT bridge
// when the fabric is enabled, an in-process provider otherwise.
func initTokenHandles(cfg *Config, logger *slog.Logger) (token.HandleProvider, *fabricBridge, error) {
	if !cfg.MQTT.Enabled {
		logger.Info("MQTT disabled, tokens are in-process only")
		return token.NewMemoryProvider(), nil, nil
	}
	bridge, err := mqtt.NewBridge(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return bridge, bridge, nil
}

// startMQTT wires the trigger cards and speech output to the bridge and
// returns a stop function.
func startMQTT(bridge *fabricBridge, cards *trigger.Cards, provider *hostapi.LocalProvider, logger *slog.Logger) func() {
	if bridge == nil {
		return func() {}
	}
	provider.SetSpeaker(bridge)
	bridge.Start(cards)
	return bridge.Stop
}
