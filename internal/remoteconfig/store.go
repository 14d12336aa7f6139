package remoteconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sgsupercars/storefront/internal/obs"
	"github.com/sgsupercars/storefront/internal/pricing"
)

// ErrConfigurationUnavailable is returned while configuration is loading,
// after a failed load, or for a province the configuration does not list.
var ErrConfigurationUnavailable = errors.New("remoteconfig: configuration unavailable")

// State describes the lifecycle of the configuration cache.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ExchangeRates holds KRW conversion factors.
type ExchangeRates struct {
	CAD float64 `json:"CAD"`
	USD float64 `json:"USD"`
}

// Snapshot is the configuration document served by the brokerage API.
type Snapshot struct {
	ExchangeFromKRW   ExchangeRates                   `json:"exchangeFromKrw"`
	MakeModelTrims    json.RawMessage                 `json:"makeModelTrims,omitempty"`
	ChargesByProvince map[string][]pricing.ChargeItem `json:"chargesByProvince"`
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{ExchangeFromKRW: s.ExchangeFromKRW}
	if s.MakeModelTrims != nil {
		out.MakeModelTrims = append(json.RawMessage(nil), s.MakeModelTrims...)
	}
	out.ChargesByProvince = make(map[string][]pricing.ChargeItem, len(s.ChargesByProvince))
	for k, v := range s.ChargesByProvince {
		out.ChargesByProvince[k] = cloneCharges(v)
	}
	return out
}

// Fetcher retrieves the configuration document.
type Fetcher interface {
	FetchConfig(ctx context.Context) (Snapshot, error)
}

// Store caches the configuration for the lifetime of the process. A
// successful load is never refreshed; a failed load may be retried by
// calling Load again.
type Store struct {
	fetcher Fetcher
	logger  zerolog.Logger

	mu       sync.RWMutex
	state    State
	snapshot Snapshot
	err      error
	loadedAt time.Time
	done     chan struct{}
}

// NewStore constructs an uninitialised Store.
func NewStore(fetcher Fetcher, logger zerolog.Logger) *Store {
	return &Store{fetcher: fetcher, logger: logger}
}

// Load fetches the configuration when none is held yet. Concurrent callers
// wait for the in-flight fetch and share its result.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateLoading:
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
			return s.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fetcher == nil {
		s.mu.Unlock()
		return errors.New("remoteconfig: fetcher not configured")
	}
	s.state = StateLoading
	s.err = nil
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	start := time.Now()
	snap, err := s.fetcher.FetchConfig(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.err = err
	} else {
		s.state = StateReady
		s.snapshot = snap.clone()
		s.loadedAt = time.Now()
	}
	close(done)
	s.mu.Unlock()

	if err != nil {
		obs.IncCounter(obs.ConfigLoadTotal, "failure")
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("config_load_failed")
		return fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}
	obs.IncCounter(obs.ConfigLoadTotal, "success")
	s.logger.Info().
		Int("provinces", len(snap.ChargesByProvince)).
		Dur("duration", time.Since(start)).
		Msg("config_loaded")
	return nil
}

// State reports the current lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns ErrConfigurationUnavailable unless the store is ready.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errLocked()
}

func (s *Store) errLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %v", ErrConfigurationUnavailable, s.err)
	default:
		return fmt.Errorf("%w: %s", ErrConfigurationUnavailable, s.state)
	}
}

// Snapshot returns a copy of the loaded configuration.
func (s *Store) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.errLocked(); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot.clone(), nil
}

// LoadedAt reports when the configuration became ready.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Charges returns the ordered charge schedule for a province. The key may be
// a province code ("BC") or its display name ("British Columbia").
func (s *Store) Charges(province string) ([]pricing.ChargeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.errLocked(); err != nil {
		return nil, err
	}
	for _, key := range provinceKeys(province) {
		if items, ok := s.snapshot.ChargesByProvince[key]; ok {
			return cloneCharges(items), nil
		}
	}
	return nil, fmt.Errorf("%w: unknown province %q", ErrConfigurationUnavailable, province)
}

func provinceKeys(province string) []string {
	province = strings.TrimSpace(province)
	keys := []string{province}
	if info, ok := pricing.LookupProvince(province); ok {
		keys = append(keys, info.Label, string(info.Code))
	}
	return keys
}

func cloneCharges(items []pricing.ChargeItem) []pricing.ChargeItem {
	out := make([]pricing.ChargeItem, len(items))
	for i, item := range items {
		out[i] = pricing.ChargeItem{
			Label: item.Label,
			Value: append(json.RawMessage(nil), item.Value...),
		}
	}
	return out
}
