package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"groovecast/internal/core"
)

func writeArtifact(t *testing.T, size int, duration time.Duration) *core.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.opus")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return &core.Artifact{Fingerprint: "fp", Path: path, Size: int64(size), Duration: duration}
}

func nextEvent(t *testing.T, s *PacedSink, within time.Duration) core.SinkEvent {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(within):
		t.Fatalf("no sink event within %v", within)
		return core.SinkEvent{}
	}
}

func expectNoEvent(t *testing.T, s *PacedSink, within time.Duration) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected sink event %+v", ev)
	case <-time.After(within):
	}
}

func TestPacedSink_TrackEnds(t *testing.T) {
	s := NewPacedSink(Config{}, zap.NewNop())
	defer s.Close()

	artifact := writeArtifact(t, 4000, 200*time.Millisecond)
	start := time.Now()
	h, err := s.OpenStream(context.Background(), "chat", artifact)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	if h.ChatID != "chat" || h.ID == "" {
		t.Errorf("handle = %+v", h)
	}

	ev := nextEvent(t, s, 2*time.Second)
	if ev.Type != core.SinkTrackEnded || ev.Handle != h {
		t.Errorf("event = %+v, want TrackEnded for %v", ev, h)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("track ended after %v, want it paced to roughly 200ms", elapsed)
	}
}

func TestPacedSink_Speed(t *testing.T) {
	s := NewPacedSink(Config{Speed: 100}, zap.NewNop())
	defer s.Close()

	h, err := s.OpenStream(context.Background(), "chat", writeArtifact(t, 4000, 5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, s, 2*time.Second); ev.Handle != h {
		t.Errorf("event for %v, want %v", ev.Handle, h)
	}
}

func TestPacedSink_PauseResume(t *testing.T) {
	s := NewPacedSink(Config{}, zap.NewNop())
	defer s.Close()

	h, err := s.OpenStream(context.Background(), "chat", writeArtifact(t, 8000, 200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(context.Background(), h); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	expectNoEvent(t, s, 400*time.Millisecond)

	streams := s.Streams()
	if len(streams) != 1 || !streams[0].Paused {
		t.Fatalf("Streams() = %+v, want one paused stream", streams)
	}

	if err := s.Resume(context.Background(), h); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if ev := nextEvent(t, s, 2*time.Second); ev.Type != core.SinkTrackEnded {
		t.Errorf("event = %+v, want TrackEnded", ev)
	}
}

func TestPacedSink_CloseStreamIsSilent(t *testing.T) {
	s := NewPacedSink(Config{}, zap.NewNop())
	defer s.Close()

	h, err := s.OpenStream(context.Background(), "chat", writeArtifact(t, 4000, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CloseStream(context.Background(), h); err != nil {
		t.Fatalf("CloseStream() error = %v", err)
	}
	expectNoEvent(t, s, 100*time.Millisecond)

	if err := s.CloseStream(context.Background(), h); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("second CloseStream() error = %v, want %v", err, ErrUnknownStream)
	}
	if err := s.Pause(context.Background(), h); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("Pause() on closed stream error = %v, want %v", err, ErrUnknownStream)
	}
}

func TestPacedSink_Capacity(t *testing.T) {
	s := NewPacedSink(Config{MaxStreams: 1}, zap.NewNop())
	defer s.Close()

	if s.MaxStreams() != 1 {
		t.Errorf("MaxStreams() = %d, want 1", s.MaxStreams())
	}
	artifact := writeArtifact(t, 4000, time.Minute)
	h, err := s.OpenStream(context.Background(), "a", artifact)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenStream(context.Background(), "b", artifact); !errors.Is(err, ErrAtCapacity) {
		t.Errorf("OpenStream() over capacity error = %v, want %v", err, ErrAtCapacity)
	}

	_ = s.CloseStream(context.Background(), h)
	if _, err := s.OpenStream(context.Background(), "b", artifact); err != nil {
		t.Errorf("OpenStream() after close error = %v", err)
	}
}

func TestPacedSink_OpenErrors(t *testing.T) {
	s := NewPacedSink(Config{}, zap.NewNop())

	missing := &core.Artifact{Path: filepath.Join(t.TempDir(), "missing.opus")}
	if _, err := s.OpenStream(context.Background(), "chat", missing); err == nil {
		t.Error("OpenStream() of missing artifact should fail")
	}

	s.Close()
	if _, err := s.OpenStream(context.Background(), "chat", writeArtifact(t, 10, time.Second)); !errors.Is(err, core.ErrSessionClosed) {
		t.Errorf("OpenStream() after Close error = %v, want %v", err, core.ErrSessionClosed)
	}
}

func TestPacedSink_Fail(t *testing.T) {
	s := NewPacedSink(Config{}, zap.NewNop())
	defer s.Close()

	h, err := s.OpenStream(context.Background(), "chat", writeArtifact(t, 4000, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	cause := errors.New("voice server went away")
	if err := s.Fail(h, cause); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	ev := nextEvent(t, s, time.Second)
	if ev.Type != core.SinkStreamError || !errors.Is(ev.Err, cause) {
		t.Errorf("event = %+v, want StreamError with cause", ev)
	}
}
