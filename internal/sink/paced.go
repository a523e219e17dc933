// Package sink provides a loopback voice transport that plays artifacts in
// real time without sending them anywhere.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"groovecast/internal/core"
)

const (
	// DefaultTrackDuration is used for artifacts that carry no duration.
	DefaultTrackDuration = 3 * time.Minute
	// chunksPerSecond sets the read granularity of a paced stream.
	chunksPerSecond = 50
	minChunkSize    = 512
	eventBuffer     = 64
)

var (
	ErrUnknownStream = errors.New("unknown stream")
	ErrAtCapacity    = errors.New("sink at capacity")
)

type Config struct {
	// MaxStreams caps concurrently open streams; 0 means unbounded.
	MaxStreams int
	// Speed scales playback; 2 plays twice as fast. Values <= 0 mean 1.
	Speed float64
}

// PacedSink reads each artifact at the rate needed to finish it in the
// track's duration and reports the end of the track.
type PacedSink struct {
	config Config
	logger *zap.Logger
	events chan core.SinkEvent

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

type stream struct {
	handle   core.StreamHandle
	artifact core.Artifact
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	paused  bool
	resume  chan struct{}
	sent    int64
	started time.Time
}

func NewPacedSink(config Config, logger *zap.Logger) *PacedSink {
	if config.Speed <= 0 {
		config.Speed = 1
	}
	return &PacedSink{
		config:  config,
		logger:  logger,
		events:  make(chan core.SinkEvent, eventBuffer),
		streams: make(map[string]*stream),
	}
}

func (s *PacedSink) MaxStreams() int {
	return s.config.MaxStreams
}

func (s *PacedSink) Events() <-chan core.SinkEvent {
	return s.events
}

func (s *PacedSink) OpenStream(ctx context.Context, chatID string, artifact *core.Artifact) (core.StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return core.StreamHandle{}, err
	}
	f, err := os.Open(artifact.Path)
	if err != nil {
		return core.StreamHandle{}, fmt.Errorf("failed to open artifact: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.Close()
		return core.StreamHandle{}, core.ErrSessionClosed
	}
	if s.config.MaxStreams > 0 && len(s.streams) >= s.config.MaxStreams {
		s.mu.Unlock()
		f.Close()
		return core.StreamHandle{}, ErrAtCapacity
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	st := &stream{
		handle:   core.StreamHandle{ID: uuid.NewString(), ChatID: chatID},
		artifact: *artifact,
		cancel:   cancel,
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	s.streams[st.handle.ID] = st
	s.mu.Unlock()

	go s.play(streamCtx, st, f)

	s.logger.Debug("Stream opened",
		zap.String("chatID", chatID),
		zap.String("handle", st.handle.ID),
		zap.String("fingerprint", artifact.Fingerprint))
	return st.handle, nil
}

// play paces reads of f and reports TrackEnded at EOF or StreamError on a read failure.
func (s *PacedSink) play(ctx context.Context, st *stream, f *os.File) {
	defer close(st.done)
	defer f.Close()

	duration := st.artifact.Duration
	if duration <= 0 {
		duration = DefaultTrackDuration
	}
	size := st.artifact.Size
	if size <= 0 {
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
	}
	bytesPerSecond := float64(size) / duration.Seconds() * s.config.Speed
	chunk := max(int(bytesPerSecond/chunksPerSecond), minChunkSize)

	limiter := rate.NewLimiter(rate.Limit(max(bytesPerSecond, 1)), chunk)
	// Start empty so the first chunk is paced like the rest.
	limiter.AllowN(time.Now(), chunk)

	buf := make([]byte, chunk)
	for {
		if err := st.waitWhilePaused(ctx); err != nil {
			return
		}
		n, err := f.Read(buf)
		if n > 0 {
			if werr := limiter.WaitN(ctx, n); werr != nil {
				return
			}
			st.mu.Lock()
			st.sent += int64(n)
			st.mu.Unlock()
		}
		if errors.Is(err, io.EOF) {
			s.emit(ctx, core.SinkEvent{Type: core.SinkTrackEnded, Handle: st.handle})
			return
		}
		if err != nil {
			s.emit(ctx, core.SinkEvent{Type: core.SinkStreamError, Handle: st.handle, Err: err})
			return
		}
	}
}

func (s *PacedSink) emit(ctx context.Context, ev core.SinkEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (st *stream) waitWhilePaused(ctx context.Context) error {
	st.mu.Lock()
	if !st.paused {
		st.mu.Unlock()
		return ctx.Err()
	}
	resume := st.resume
	st.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PacedSink) lookup(handle core.StreamHandle) (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[handle.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, handle.ID)
	}
	return st, nil
}

// CloseStream stops playback without reporting an event.
func (s *PacedSink) CloseStream(ctx context.Context, handle core.StreamHandle) error {
	s.mu.Lock()
	st, ok := s.streams[handle.ID]
	delete(s.streams, handle.ID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, handle.ID)
	}

	st.cancel()
	select {
	case <-st.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Debug("Stream closed", zap.String("chatID", handle.ChatID), zap.String("handle", handle.ID))
	return nil
}

func (s *PacedSink) Pause(_ context.Context, handle core.StreamHandle) error {
	st, err := s.lookup(handle)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.paused {
		st.paused = true
		st.resume = make(chan struct{})
	}
	return nil
}

func (s *PacedSink) Resume(_ context.Context, handle core.StreamHandle) error {
	st, err := s.lookup(handle)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.paused {
		st.paused = false
		close(st.resume)
	}
	return nil
}

// Fail simulates a transport fault on a live stream.
func (s *PacedSink) Fail(handle core.StreamHandle, cause error) error {
	st, err := s.lookup(handle)
	if err != nil {
		return err
	}
	st.cancel()
	<-st.done
	select {
	case s.events <- core.SinkEvent{Type: core.SinkStreamError, Handle: handle, Err: cause}:
		return nil
	default:
		return errors.New("sink event buffer full")
	}
}

type StreamInfo struct {
	Handle      string        `json:"handle"`
	ChatID      string        `json:"chat_id"`
	Fingerprint string        `json:"fingerprint"`
	Paused      bool          `json:"paused"`
	BytesSent   int64         `json:"bytes_sent"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Streams lists open streams.
func (s *PacedSink) Streams() []StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StreamInfo, 0, len(s.streams))
	for _, st := range s.streams {
		st.mu.Lock()
		out = append(out, StreamInfo{
			Handle:      st.handle.ID,
			ChatID:      st.handle.ChatID,
			Fingerprint: st.artifact.Fingerprint,
			Paused:      st.paused,
			BytesSent:   st.sent,
			Elapsed:     time.Since(st.started),
		})
		st.mu.Unlock()
	}
	return out
}

// Close stops every stream. The event channel stays open.
func (s *PacedSink) Close() {
	s.mu.Lock()
	s.closed = true
	streams := s.streams
	s.streams = make(map[string]*stream)
	s.mu.Unlock()

	for _, st := range streams {
		st.cancel()
		<-st.done
	}
}
