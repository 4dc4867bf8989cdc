package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	userID, err := store.LookupSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupSession failed: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("expected user-123, got %s", userID)
	}
	if ttl := s.TTL("mindmap:session:hash-1"); ttl <= 23*time.Hour {
		t.Errorf("unexpected ttl %v", ttl)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, "short", "user-456", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.LookupSession(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveExpiredSessionFails(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.SaveSession(context.Background(), "old", "user", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for an expiry in the past")
	}
}

func TestRevokeSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, "token-1", "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSession(ctx, "token-2", "user-2", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.RevokeSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if _, err := store.LookupSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected revoked token to be gone, got %v", err)
	}
	if userID, err := store.LookupSession(ctx, "token-2"); err != nil || userID != "user-2" {
		t.Errorf("token-2 affected by revoke: %q %v", userID, err)
	}
	if err := store.RevokeSession(ctx, "never-issued"); err != nil {
		t.Errorf("revoking an unknown token failed: %v", err)
	}
}
