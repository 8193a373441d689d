// Package wallet holds the process-wide wallet session: the one address that
// is acting right now, and the signer behind it.
//
// All mutation goes through Connect and Disconnect. Observers registered with
// Subscribe are called synchronously, in registration order, before those
// methods return, so nobody sees a stale address once a transition is over.
package wallet

//go:generate mockgen -source=session.go -destination=mocks/provider_mock.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"sirius-funding/internal/models"
)

// SignedEnvelope is a transaction envelope signed by the wallet, ready to be
// submitted to the ledger network.
type SignedEnvelope struct {
	Envelope string `json:"envelope"`
	Hash     string `json:"hash"`
}

// Provider is the external signer the user controls.
type Provider interface {
	// Address asks the user to pick an account and returns its address.
	Address(ctx context.Context) (string, error)
	Sign(ctx context.Context, payload []byte) (SignedEnvelope, error)
	Disconnect(ctx context.Context) error
}

type EventType string

const (
	EventWalletChanged      EventType = "walletChanged"
	EventWalletDisconnected EventType = "walletDisconnected"
)

// Event is delivered to subscribers on every session transition. Address is
// empty for EventWalletDisconnected.
type Event struct {
	Type    EventType `json:"type"`
	Address string    `json:"address,omitempty"`
}

// Listener receives session events. It must not call Connect or Disconnect.
type Listener func(Event)

type subscription struct {
	id uint64
	fn Listener
}

type Session struct {
	provider Provider
	cache    AddressCache
	logger   zerolog.Logger

	// mu serializes transitions; address is read without it.
	mu      sync.Mutex
	address atomic.Pointer[string]

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64
}

func NewSession(provider Provider, cache AddressCache, logger zerolog.Logger) *Session {
	if cache == nil {
		cache = NopCache{}
	}
	return &Session{
		provider: provider,
		cache:    cache,
		logger:   logger.With().Str("component", "wallet").Logger(),
	}
}

// Restore loads a previously cached address without notifying anyone.
func (s *Session) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, err := s.cache.Load()
	if err != nil {
		return fmt.Errorf("load cached address: %w", err)
	}
	if addr != "" {
		s.address.Store(&addr)
		s.logger.Info().Str("address", addr).Msg("restored wallet session")
	}
	return nil
}

// Connect asks the provider for an address and makes it the active session.
func (s *Session) Connect(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, err := s.provider.Address(ctx)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserCancelled), errors.Is(err, models.ErrWalletUnavailable):
			return "", err
		default:
			return "", fmt.Errorf("%w: %v", models.ErrWalletUnavailable, err)
		}
	}
	if addr == "" {
		return "", fmt.Errorf("%w: provider returned no address", models.ErrWalletUnavailable)
	}

	s.address.Store(&addr)
	if err := s.cache.Store(addr); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache wallet address")
	}
	s.logger.Info().Str("address", addr).Msg("wallet connected")

	s.notify(Event{Type: EventWalletChanged, Address: addr})
	return addr, nil
}

// Disconnect ends the active session. It is a no-op without one.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.address.Load() == nil {
		return nil
	}

	// The local session ends even if the provider cannot be reached.
	if err := s.provider.Disconnect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("wallet provider disconnect failed")
	}
	s.address.Store(nil)
	if err := s.cache.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear cached wallet address")
	}
	s.logger.Info().Msg("wallet disconnected")

	s.notify(Event{Type: EventWalletDisconnected})
	return nil
}

// CurrentAddress returns the active address, if any. It never blocks.
func (s *Session) CurrentAddress() (string, bool) {
	p := s.address.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Sign asks the provider to sign payload for the active address.
func (s *Session) Sign(ctx context.Context, payload []byte) (SignedEnvelope, error) {
	if _, ok := s.CurrentAddress(); !ok {
		return SignedEnvelope{}, models.ErrSigningUnavailable
	}

	env, err := s.provider.Sign(ctx, payload)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSigningRejected):
			return SignedEnvelope{}, err
		case errors.Is(err, models.ErrUserCancelled):
			return SignedEnvelope{}, fmt.Errorf("%w: %v", models.ErrSigningRejected, err)
		default:
			return SignedEnvelope{}, fmt.Errorf("%w: %v", models.ErrSigningUnavailable, err)
		}
	}
	return env, nil
}

// Subscribe registers fn for every future transition. The returned function
// removes it again.
func (s *Session) Subscribe(fn Listener) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify(ev Event) {
	s.subsMu.Lock()
	subs := append([]subscription(nil), s.subs...)
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
