package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "cache.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	entry := domain.CachedSessionEntry{
		Token:                "tok",
		TransportEndpointURL: "wss://rtc.example.test",
		RoomName:             "room-1",
		TargetRole:           "backend engineer",
	}

	if err := store.Put(ctx, "s-1", entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.Get(ctx, "s-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Token != "tok" || got.RoomName != "room-1" || got.TargetRole != "backend engineer" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.CachedAt.IsZero() {
		t.Fatalf("expected cachedAt stamped on write")
	}
}

func TestSQLiteStoreOverwritesAndDeletes(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	first := domain.CachedSessionEntry{Token: "old", RoomName: "r", CachedAt: time.Unix(100, 0).UTC()}
	second := domain.CachedSessionEntry{Token: "new", RoomName: "r", CachedAt: time.Unix(200, 0).UTC()}

	if err := store.Put(ctx, "s-1", first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := store.Put(ctx, "s-1", second); err != nil {
		t.Fatalf("put second: %v", err)
	}
	got, _, err := store.Get(ctx, "s-1")
	if err != nil || got.Token != "new" || !got.CachedAt.Equal(second.CachedAt) {
		t.Fatalf("expected overwrite, got %+v (err=%v)", got, err)
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Get(ctx, "s-1"); ok || err != nil {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreMiss(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, ok, err := store.Get(context.Background(), "unknown")
	if ok || err != nil {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreCorruptValue(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if _, err := store.db.Exec(`INSERT INTO session_cache (key, value, updated_at) VALUES (?, ?, ?)`, Key("s-1"), "{not json", "now"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := store.Get(context.Background(), "s-1"); ok || err == nil {
		t.Fatalf("expected decode error, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if _, _, err := store.Get(context.Background(), "  "); !errors.Is(err, ErrEmptySessionID) {
		t.Fatalf("expected ErrEmptySessionID, got %v", err)
	}
	if err := store.Put(context.Background(), "", domain.CachedSessionEntry{}); !errors.Is(err, ErrEmptySessionID) {
		t.Fatalf("expected ErrEmptySessionID, got %v", err)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewSQLiteStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(context.Background(), "s-1", domain.CachedSessionEntry{Token: "tok"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got, ok, err := reopened.Get(context.Background(), "s-1"); !ok || err != nil || got.Token != "tok" {
		t.Fatalf("expected persisted entry, got %+v ok=%v err=%v", got, ok, err)
	}
}
