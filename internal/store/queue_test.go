package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"groovecast/internal/core"
)

func snapshot(chatID string) *core.QueueSnapshot {
	a := core.NewTrackDescriptor(core.PlatformYouTube, "a", "Song A", "Band", "https://youtu.be/a", 3*time.Minute)
	b := core.NewTrackDescriptor(core.PlatformSpotify, "b", "Song B", "Band", "", 4*time.Minute)
	return &core.QueueSnapshot{
		ChatID:       chatID,
		Current:      &core.QueueItem{Track: a, Position: 3},
		Items:        []core.QueueItem{{Track: b, Position: 4}},
		LoopMode:     core.LoopQueue,
		NextPosition: 5,
		SavedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func testQueueStore(t *testing.T, s core.QueueStore) {
	t.Helper()
	ctx := context.Background()

	got, err := s.LoadQueueState(ctx, "chat")
	if err != nil || got != nil {
		t.Fatalf("LoadQueueState() on empty store = %v, %v, want nil, nil", got, err)
	}

	want := snapshot("chat")
	if err := s.SaveQueueState(ctx, "chat", want); err != nil {
		t.Fatalf("SaveQueueState() error = %v", err)
	}

	got, err = s.LoadQueueState(ctx, "chat")
	if err != nil {
		t.Fatalf("LoadQueueState() error = %v", err)
	}
	if got.Current == nil || got.Current.Track.Fingerprint != want.Current.Track.Fingerprint {
		t.Errorf("Current = %+v, want %+v", got.Current, want.Current)
	}
	if len(got.Items) != 1 || got.Items[0].Position != 4 {
		t.Errorf("Items = %+v, want one item at position 4", got.Items)
	}
	if got.LoopMode != core.LoopQueue || got.NextPosition != 5 {
		t.Errorf("LoopMode = %v NextPosition = %d, want queue and 5", got.LoopMode, got.NextPosition)
	}
	if got.Items[0].Track.Duration != 4*time.Minute {
		t.Errorf("Duration = %v, want 4m", got.Items[0].Track.Duration)
	}

	// Overwrite
	want.Items = nil
	if err := s.SaveQueueState(ctx, "chat", want); err != nil {
		t.Fatalf("SaveQueueState() overwrite error = %v", err)
	}
	got, _ = s.LoadQueueState(ctx, "chat")
	if len(got.Items) != 0 {
		t.Errorf("Items after overwrite = %d, want 0", len(got.Items))
	}

	// Other chats are separate
	if other, _ := s.LoadQueueState(ctx, "other"); other != nil {
		t.Error("LoadQueueState() for another chat should be nil")
	}

	if err := s.DeleteQueueState(ctx, "chat"); err != nil {
		t.Fatalf("DeleteQueueState() error = %v", err)
	}
	if got, err := s.LoadQueueState(ctx, "chat"); err != nil || got != nil {
		t.Errorf("LoadQueueState() after delete = %v, %v, want nil, nil", got, err)
	}
	if err := s.DeleteQueueState(ctx, "chat"); err != nil {
		t.Errorf("DeleteQueueState() of missing state error = %v", err)
	}
}

func TestMemoryQueueStore(t *testing.T) {
	s := NewMemoryQueueStore()
	testQueueStore(t, s)
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestMemoryQueueStore_SnapshotsAreCopied(t *testing.T) {
	s := NewMemoryQueueStore()
	snap := snapshot("chat")
	_ = s.SaveQueueState(context.Background(), "chat", snap)

	snap.Items[0].Position = 99
	got, _ := s.LoadQueueState(context.Background(), "chat")
	if got.Items[0].Position != 4 {
		t.Error("saved state should not alias the caller's snapshot")
	}
}

func TestSQLiteQueueStore(t *testing.T) {
	s, err := NewSQLiteQueueStore(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("NewSQLiteQueueStore() error = %v", err)
	}
	defer s.Close()

	testQueueStore(t, s)
}

func TestSQLiteQueueStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := NewSQLiteQueueStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteQueueStore() error = %v", err)
	}
	if err := s.SaveQueueState(context.Background(), "chat", snapshot("chat")); err != nil {
		t.Fatalf("SaveQueueState() error = %v", err)
	}
	s.Close()

	s, err = NewSQLiteQueueStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.LoadQueueState(context.Background(), "chat")
	if err != nil || got == nil {
		t.Fatalf("LoadQueueState() after reopen = %v, %v", got, err)
	}
}

func TestRedisQueueStore_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	s := NewRedisQueueStore(client, time.Hour)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// A connection failure must not look like "nothing saved".
	got, err := s.LoadQueueState(ctx, "chat")
	if err == nil {
		t.Errorf("LoadQueueState() = %v, nil, want error", got)
	}
}

func TestRedisKey(t *testing.T) {
	if got := redisKey("chat-1"); got != "groovecast:queue:chat-1" {
		t.Errorf("redisKey() = %q", got)
	}
}
