// Package hostapi mediates access to the surrounding home platform.
// Every script run borrows its own session; sessions are never shared
// between concurrent runs and must be released on every exit path.
package hostapi

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Session is a host-API handle scoped to a single script run.
type Session interface {
	// Say routes text to the platform's speech output.
	Say(ctx context.Context, text string) error
	// Release returns the session. Idempotent.
	Release()
}

// Provider hands out per-run sessions.
type Provider interface {
	Acquire(ctx context.Context) (Session, error)
}

// Speaker is the outbound speech transport behind a local provider.
// The MQTT bridge implements it in production.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// LocalProvider creates sessions backed by a Speaker. It tracks the
// number of live sessions so leaks show up in logs.
type LocalProvider struct {
	logger *slog.Logger
	live   atomic.Int64

	mu      sync.Mutex
	speaker Speaker
}

// NewLocalProvider creates a provider. A nil speaker makes Say a
// logged no-op, which keeps scripts runnable with the fabric offline.
func NewLocalProvider(speaker Speaker, logger *slog.Logger) *LocalProvider {
	return &LocalProvider{
		speaker: speaker,
		logger:  logger.With("component", "hostapi"),
	}
}

// SetSpeaker swaps the outbound transport. Used during startup once the
// fabric bridge is connected.
func (p *LocalProvider) SetSpeaker(speaker Speaker) {
	p.mu.Lock()
	p.speaker = speaker
	p.mu.Unlock()
}

func (p *LocalProvider) getSpeaker() Speaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaker
}

func (p *LocalProvider) Acquire(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.live.Add(1)
	s := &localSession{provider: p}
	return s, nil
}

// Live returns the number of unreleased sessions.
func (p *LocalProvider) Live() int64 {
	return p.live.Load()
}

type localSession struct {
	provider *LocalProvider
	once     sync.Once
	released atomic.Bool
}

func (s *localSession) Say(ctx context.Context, text string) error {
	if s.released.Load() {
		return context.Canceled
	}
	speaker := s.provider.getSpeaker()
	if speaker == nil {
		s.provider.logger.Info("say (no speaker configured)", "text", text)
		return nil
	}
	return speaker.Say(ctx, text)
}

func (s *localSession) Release() {
	s.once.Do(func() {
		s.released.Store(true)
		s.provider.live.Add(-1)
	})
}
