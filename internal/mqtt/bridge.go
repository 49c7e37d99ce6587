//go:build !no_mqtt

// Package mqtt bridges the script hub onto the automation fabric: live
// token handles as retained topics, speech output, and the trigger
// cards as command subscriptions.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"scripthub/internal/sandbox"
	"scripthub/internal/token"
	"scripthub/internal/trigger"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the hub to an MQTT broker. It is the production
// token.HandleProvider and hostapi.Speaker.
type Bridge struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	cards *trigger.Cards
}

// NewBridge creates and connects an MQTT bridge. Trigger subscriptions
// begin once Start is called with the card bindings.
func NewBridge(cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("scripthub").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(b.prefix+"/bridge/state", []byte("online"), true)
			b.subscribeTriggers()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	tok := b.client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := tok.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return b, nil
}

// Start wires the automation cards to command topics. Reconnects
// resubscribe through the connect handler.
func (b *Bridge) Start(cards *trigger.Cards) {
	b.mu.Lock()
	b.cards = cards
	b.mu.Unlock()
	b.subscribeTriggers()
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	b.publish(b.prefix+"/bridge/state", []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// CreateHandle implements token.HandleProvider. A token lives as a
// retained topic so the fabric always sees the current value.
func (b *Bridge) CreateHandle(id, typ string, value any) (token.Handle, error) {
	h := &tokenHandle{bridge: b, id: id, typ: typ}
	if err := h.SetValue(value); err != nil {
		return nil, err
	}
	return h, nil
}

// Say implements hostapi.Speaker.
func (b *Bridge) Say(ctx context.Context, text string) error {
	tok := b.client.Publish(b.prefix+"/say", 1, false, []byte(text))
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type tokenHandle struct {
	bridge *Bridge
	id     string
	typ    string
}

func (h *tokenHandle) topic() string {
	return h.bridge.prefix + "/token/" + h.id
}

func (h *tokenHandle) SetValue(value any) error {
	payload, err := json.Marshal(map[string]any{"type": h.typ, "value": value})
	if err != nil {
		return fmt.Errorf("marshal token %s: %w", h.id, err)
	}
	h.bridge.publish(h.topic(), payload, true)
	return nil
}

// Unregister clears the retained topic.
func (h *tokenHandle) Unregister() error {
	h.bridge.publish(h.topic(), nil, true)
	return nil
}

// subscribeTriggers wires the automation cards to command topics. A
// no-op until Start has provided the cards.
func (b *Bridge) subscribeTriggers() {
	b.mu.Lock()
	cards := b.cards
	b.mu.Unlock()
	if cards == nil {
		return
	}

	b.client.Subscribe(b.prefix+"/run/+", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		id := strings.TrimPrefix(msg.Topic(), b.prefix+"/run/")
		go b.runCard(id, string(msg.Payload()))
	})

	b.client.Subscribe(b.prefix+"/run-code", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		go b.runCodeCard(msg.Payload())
	})
}

// runCard handles "run script" and "run script with argument". An empty
// payload is the no-argument card.
func (b *Bridge) runCard(id, arg string) {
	b.mu.Lock()
	cards := b.cards
	b.mu.Unlock()

	var (
		res *sandbox.Result
		err error
	)
	if arg == "" {
		res, err = cards.RunScript(b.ctx, id)
	} else {
		res, err = cards.RunScriptWithArg(b.ctx, id, arg)
	}
	b.publishResult(b.prefix+"/result/"+id, res, err)
}

// runCodeCard handles "run inline code with argument, return string".
func (b *Bridge) runCodeCard(payload []byte) {
	b.mu.Lock()
	cards := b.cards
	b.mu.Unlock()

	var req struct {
		Code string `json:"code"`
		Arg  string `json:"arg"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("invalid run-code payload", "err", err)
		return
	}
	res, err := cards.RunCodeWithArg(b.ctx, req.Code, req.Arg)
	if err != nil {
		b.publishResult(b.prefix+"/result/code", nil, err)
		return
	}
	data, _ := json.Marshal(res)
	b.publish(b.prefix+"/result/code", data, false)
}

func (b *Bridge) publishResult(topic string, res *sandbox.Result, err error) {
	var payload []byte
	if err != nil {
		payload, _ = json.Marshal(map[string]string{"error": err.Error()})
	} else {
		payload, _ = json.Marshal(res)
	}
	b.publish(topic, payload, false)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	tok := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !tok.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := tok.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
