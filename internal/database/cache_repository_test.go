package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCacheSetGetDelete(t *testing.T) {
	db := openTestDB(t)

	if err := db.Cache.Set("search:bilibili:abc", `{"hit":true}`, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := db.Cache.Get("search:bilibili:abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != `{"hit":true}` {
		t.Fatalf("value = %q", v)
	}

	if err := db.Cache.Delete("search:bilibili:abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Cache.Get("search:bilibili:abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key error = %v, want ErrNotFound", err)
	}
}

func TestCacheSetOverwrites(t *testing.T) {
	db := openTestDB(t)
	if err := db.Cache.Set("k", "old", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Cache.Set("k", "new", time.Hour); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ := db.Cache.Get("k"); v != "new" {
		t.Fatalf("value = %q, want new", v)
	}
}

func TestCacheExpiry(t *testing.T) {
	db := openTestDB(t)
	if err := db.Cache.Set("ephemeral", "v", -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.Cache.Get("ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired key error = %v, want ErrNotFound", err)
	}
}

func TestCacheDeletePrefix(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"search:a", "search:b", "meta:a"} {
		if err := db.Cache.Set(k, "v", time.Hour); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	n, err := db.Cache.DeletePrefix("search:")
	if err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d rows, want 2", n)
	}
	if _, err := db.Cache.Get("meta:a"); err != nil {
		t.Fatalf("unrelated key lost: %v", err)
	}
}

func TestCacheSweep(t *testing.T) {
	db := openTestDB(t)
	if err := db.Cache.Set("dead", "v", -time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Cache.Set("live", "v", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	n, err := db.Cache.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d rows, want 1", n)
	}
	if _, err := db.Cache.Get("live"); err != nil {
		t.Fatalf("live key lost: %v", err)
	}
}
