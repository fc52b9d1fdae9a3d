// Package ratelimit enforces provider request quotas over fixed windows.
// Counters persist to the database with a checksum so a tampered or
// partially-written row falls back to a fresh window instead of poisoning
// the limiter.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
)

// Counter keys. Provider names are used directly for per-provider quotas.
const (
	KeyGlobal         = "__global__"
	KeyFallbackMatch  = "__fallback_match__"
	KeyFallbackSearch = "__fallback_search__"
)

// FallbackQuotaCap is the hard ceiling on the configurable fallback quota.
const FallbackQuotaCap = 50

// ErrRateLimited reports an exhausted quota along with how long until the
// window resets. Workers convert it into a task pause, not a failure.
type ErrRateLimited struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter.Round(time.Second))
}

// IsRateLimited extracts an ErrRateLimited from an error chain.
func IsRateLimited(err error) (*ErrRateLimited, bool) {
	var rl *ErrRateLimited
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// Limiter is the quota gate consulted around every outbound provider call.
// Check never consumes; Increment always does.
type Limiter interface {
	// Check fails with *ErrRateLimited when the key's counter has reached
	// its limit in the current window, or when the global pool is spent.
	Check(provider string) error
	// Increment bumps the provider counter and the global counter.
	Increment(provider string) error
	// CheckFallback verifies the fallback quota key and the provider quota
	// without touching the global pool.
	CheckFallback(kind, provider string) error
	// IncrementFallback bumps the fallback key and the provider key, not
	// the global counter.
	IncrementFallback(kind, provider string) error
	// GlobalStatus reports whether the global pool is exhausted and how
	// long until it resets.
	GlobalStatus() (bool, time.Duration)
	// States reports current counters for the status endpoint.
	States() ([]models.RateLimitState, error)
	// Reset clears one counter, or all when key is empty.
	Reset(key string) error
}

// Disabled is the no-op limiter used when rate limiting is switched off.
type Disabled struct{}

func (Disabled) Check(string) error                       { return nil }
func (Disabled) Increment(string) error                   { return nil }
func (Disabled) CheckFallback(string, string) error       { return nil }
func (Disabled) IncrementFallback(string, string) error   { return nil }
func (Disabled) GlobalStatus() (bool, time.Duration)      { return false, 0 }
func (Disabled) States() ([]models.RateLimitState, error) { return nil, nil }
func (Disabled) Reset(string) error                       { return nil }

// Service is the persisted fixed-window limiter.
type Service struct {
	cfg  *config.Manager
	repo *database.RateLimitRepository

	mu sync.Mutex
	// now is swappable for tests.
	now func() time.Time
}

var _ Limiter = (*Service)(nil)

func New(cfg *config.Manager, repo *database.RateLimitRepository) *Service {
	return &Service{cfg: cfg, repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Check(provider string) error {
	settings, err := s.cfg.Load()
	if err != nil {
		return err
	}
	if !settings.RateLimit.Enabled {
		return nil
	}
	period := s.period(settings)

	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.RateLimit.GlobalLimit > 0 {
		if err := s.checkLocked(KeyGlobal, settings.RateLimit.GlobalLimit, period); err != nil {
			return err
		}
	}
	if quota := s.providerQuota(settings, provider); quota >= 0 {
		return s.checkLocked(provider, quota, period)
	}
	return nil
}

func (s *Service) Increment(provider string) error {
	settings, err := s.cfg.Load()
	if err != nil {
		return err
	}
	if !settings.RateLimit.Enabled {
		return nil
	}
	period := s.period(settings)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bumpLocked(provider, period); err != nil {
		return err
	}
	return s.bumpLocked(KeyGlobal, period)
}

func (s *Service) CheckFallback(kind, provider string) error {
	settings, err := s.cfg.Load()
	if err != nil {
		return err
	}
	if !settings.RateLimit.Enabled {
		return nil
	}
	period := s.period(settings)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(kind, s.fallbackLimit(settings), period); err != nil {
		return err
	}
	if quota := s.providerQuota(settings, provider); quota >= 0 {
		return s.checkLocked(provider, quota, period)
	}
	return nil
}

func (s *Service) IncrementFallback(kind, provider string) error {
	settings, err := s.cfg.Load()
	if err != nil {
		return err
	}
	if !settings.RateLimit.Enabled {
		return nil
	}
	period := s.period(settings)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bumpLocked(kind, period); err != nil {
		return err
	}
	return s.bumpLocked(provider, period)
}

func (s *Service) GlobalStatus() (bool, time.Duration) {
	settings, err := s.cfg.Load()
	if err != nil || !settings.RateLimit.Enabled || settings.RateLimit.GlobalLimit <= 0 {
		return false, 0
	}
	period := s.period(settings)

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.loadLocked(KeyGlobal, period)
	if state.RequestCount < settings.RateLimit.GlobalLimit {
		return false, 0
	}
	wait := state.LastResetTime.Add(period).Sub(s.now())
	if wait < time.Second {
		wait = time.Second
	}
	return true, wait
}

func (s *Service) States() ([]models.RateLimitState, error) {
	return s.repo.List()
}

func (s *Service) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		return s.repo.ResetAll()
	}
	return s.repo.Reset(key)
}

func (s *Service) period(settings config.Settings) time.Duration {
	return time.Duration(settings.RateLimit.GlobalPeriodSeconds) * time.Second
}

// providerQuota returns -1 for unlimited.
func (s *Service) providerQuota(settings config.Settings, provider string) int {
	if p, ok := settings.ProviderByName(provider); ok {
		return p.RateLimitQuota
	}
	return -1
}

func (s *Service) fallbackLimit(settings config.Settings) int {
	limit := settings.RateLimit.FallbackLimit
	if limit > FallbackQuotaCap || limit <= 0 {
		limit = FallbackQuotaCap
	}
	return limit
}

func (s *Service) checkLocked(key string, limit int, period time.Duration) error {
	state := s.loadLocked(key, period)
	if state.RequestCount < limit {
		return nil
	}
	retry := state.LastResetTime.Add(period).Sub(s.now())
	if retry < time.Second {
		retry = time.Second
	}
	return &ErrRateLimited{Key: key, RetryAfter: retry}
}

func (s *Service) bumpLocked(key string, period time.Duration) error {
	state := s.loadLocked(key, period)
	state.RequestCount++
	state.Checksum = checksum(state)
	if err := s.repo.Put(state); err != nil {
		return fmt.Errorf("persist rate limit %s: %w", key, err)
	}
	return nil
}

// loadLocked reads a counter, resetting it when the window has elapsed or
// the checksum does not verify. Reset is lazy: nothing is written here.
func (s *Service) loadLocked(key string, period time.Duration) models.RateLimitState {
	fresh := models.RateLimitState{Key: key, RequestCount: 0, LastResetTime: s.now()}
	state, err := s.repo.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return fresh
	}
	if err != nil {
		log.Printf("[ratelimit] load %s: %v, starting fresh window", key, err)
		return fresh
	}
	expect := *state
	expect.Checksum = ""
	if state.Checksum != checksum(expect) {
		log.Printf("[ratelimit] checksum mismatch for %s, resetting counter", key)
		return fresh
	}
	if s.now().Sub(state.LastResetTime) >= period {
		return fresh
	}
	return *state
}

// checksum binds count and window start to the key so edited rows are
// detected on load.
func checksum(s models.RateLimitState) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d", s.Key, s.RequestCount, s.LastResetTime.Unix()))
	return hex.EncodeToString(h[:])
}
