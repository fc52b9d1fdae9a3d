package ratelimit

import (
	"path/filepath"
	"testing"
	"time"

	"danmuhub/config"
	"danmuhub/internal/database"
)

func newTestService(t *testing.T, mutate func(*config.Settings)) (*Service, *database.DB) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewManager(filepath.Join(dir, "settings.json"))
	settings, err := cfg.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	settings.RateLimit.Enabled = true
	settings.RateLimit.GlobalLimit = 0
	settings.RateLimit.GlobalPeriodSeconds = 3600
	settings.RateLimit.FallbackLimit = 2
	settings.Providers = []config.ProviderConfig{
		{Name: "bilibili", Enabled: true, RateLimitQuota: 3},
		{Name: "gamer", Enabled: true, RateLimitQuota: -1},
	}
	if mutate != nil {
		mutate(&settings)
	}
	if err := cfg.Save(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(cfg, db.RateLimit), db
}

func TestCheckDoesNotConsume(t *testing.T) {
	s, _ := newTestService(t, nil)
	for i := 0; i < 20; i++ {
		if err := s.Check("bilibili"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	// Quota is 3; twenty checks must not have spent any of it.
	for i := 0; i < 3; i++ {
		if err := s.Increment("bilibili"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := s.Check("bilibili"); err == nil {
		t.Fatalf("check should fail after quota consumed")
	}
}

func TestProviderQuotaExhaustion(t *testing.T) {
	s, _ := newTestService(t, nil)
	for i := 0; i < 3; i++ {
		if err := s.Check("bilibili"); err != nil {
			t.Fatalf("check before increment %d: %v", i, err)
		}
		if err := s.Increment("bilibili"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	err := s.Check("bilibili")
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if rl.Key != "bilibili" {
		t.Fatalf("limited key = %q", rl.Key)
	}
	if rl.RetryAfter <= 0 {
		t.Fatalf("retry after = %v", rl.RetryAfter)
	}

	// Unlimited provider is unaffected.
	if err := s.Check("gamer"); err != nil {
		t.Fatalf("unlimited provider limited: %v", err)
	}
}

func TestGlobalPool(t *testing.T) {
	s, _ := newTestService(t, func(c *config.Settings) {
		c.RateLimit.GlobalLimit = 2
	})
	if limited, _ := s.GlobalStatus(); limited {
		t.Fatalf("fresh limiter reports global limited")
	}
	if err := s.Increment("bilibili"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.Increment("gamer"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	// Global pool of 2 is now spent: every provider is blocked.
	err := s.Check("gamer")
	rl, ok := IsRateLimited(err)
	if !ok || rl.Key != KeyGlobal {
		t.Fatalf("expected global limit, got %v", err)
	}
	limited, wait := s.GlobalStatus()
	if !limited || wait <= 0 {
		t.Fatalf("GlobalStatus = %v, %v", limited, wait)
	}
}

func TestFallbackQuotaSkipsGlobal(t *testing.T) {
	s, _ := newTestService(t, func(c *config.Settings) {
		c.RateLimit.GlobalLimit = 100
	})

	// FallbackLimit is 2.
	for i := 0; i < 2; i++ {
		if err := s.CheckFallback(KeyFallbackMatch, "gamer"); err != nil {
			t.Fatalf("fallback check %d: %v", i, err)
		}
		if err := s.IncrementFallback(KeyFallbackMatch, "gamer"); err != nil {
			t.Fatalf("fallback increment %d: %v", i, err)
		}
	}
	err := s.CheckFallback(KeyFallbackMatch, "gamer")
	if rl, ok := IsRateLimited(err); !ok || rl.Key != KeyFallbackMatch {
		t.Fatalf("expected fallback limit, got %v", err)
	}

	// The search kind has its own counter.
	if err := s.CheckFallback(KeyFallbackSearch, "gamer"); err != nil {
		t.Fatalf("search fallback should be untouched: %v", err)
	}

	// Fallback traffic never touched the global pool.
	if limited, _ := s.GlobalStatus(); limited {
		t.Fatalf("fallback increments consumed the global pool")
	}
}

func TestFallbackLimitHardCap(t *testing.T) {
	s, _ := newTestService(t, func(c *config.Settings) {
		c.RateLimit.FallbackLimit = 10_000
	})
	for i := 0; i < FallbackQuotaCap; i++ {
		if err := s.IncrementFallback(KeyFallbackSearch, "gamer"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := s.CheckFallback(KeyFallbackSearch, "gamer"); err == nil {
		t.Fatalf("configured limit above %d must clamp to the cap", FallbackQuotaCap)
	}
}

func TestWindowReset(t *testing.T) {
	s, _ := newTestService(t, nil)
	base := time.Now().UTC()
	s.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if err := s.Increment("bilibili"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := s.Check("bilibili"); err == nil {
		t.Fatalf("quota should be spent")
	}

	// One second short of the period: still limited.
	s.now = func() time.Time { return base.Add(3599 * time.Second) }
	if err := s.Check("bilibili"); err == nil {
		t.Fatalf("window must not reset early")
	}

	// Past the period boundary: fresh window.
	s.now = func() time.Time { return base.Add(3601 * time.Second) }
	if err := s.Check("bilibili"); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestTamperedRowStartsFresh(t *testing.T) {
	s, db := newTestService(t, nil)
	for i := 0; i < 3; i++ {
		if err := s.Increment("bilibili"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := s.Check("bilibili"); err == nil {
		t.Fatalf("quota should be spent")
	}

	// Edit the count behind the limiter's back; the checksum no longer
	// verifies and the counter resets.
	state, err := db.RateLimit.Get("bilibili")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	state.RequestCount = 1
	if err := db.RateLimit.Put(*state); err != nil {
		t.Fatalf("put state: %v", err)
	}
	if err := s.Check("bilibili"); err != nil {
		t.Fatalf("tampered row should reset, got %v", err)
	}
}

func TestResetClearsCounter(t *testing.T) {
	s, _ := newTestService(t, nil)
	for i := 0; i < 3; i++ {
		if err := s.Increment("bilibili"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := s.Reset("bilibili"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.Check("bilibili"); err != nil {
		t.Fatalf("check after reset: %v", err)
	}
}
