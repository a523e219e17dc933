package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Orchestrator supervises one Runner per active chat and routes transport
// events to them.
type Orchestrator struct {
	cache   TrackCache
	sink    StreamSink
	store   QueueStore
	events  EventSink
	config  *Config
	logger  *zap.Logger
	streams *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	runners map[string]*Runner
	closed  bool
}

func NewOrchestrator(
	config *Config,
	cache TrackCache,
	sink StreamSink,
	store QueueStore,
	events EventSink,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		cache:   cache,
		sink:    sink,
		store:   store,
		events:  events,
		config:  config,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		runners: make(map[string]*Runner),
	}
	if n := sink.MaxStreams(); n > 0 {
		o.streams = semaphore.NewWeighted(int64(n))
	}
	return o
}

// Run routes sink events until ctx is done, then stops every runner. Runners
// persist their queues on the way out.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Starting stream orchestrator", zap.Int("maxStreams", o.sink.MaxStreams()))

	events := o.sink.Events()
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case ev, ok := <-events:
			if !ok {
				o.logger.Error("Stream sink closed its event channel")
				o.shutdown()
				return errors.New("stream sink event channel closed")
			}
			o.route(ev)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.logger.Info("Stream orchestrator stopped")
}

func (o *Orchestrator) route(ev SinkEvent) {
	r := o.Runner(ev.Handle.ChatID)
	if r == nil {
		o.logger.Debug("Dropping sink event for inactive chat",
			zap.String("chatID", ev.Handle.ChatID),
			zap.String("handle", ev.Handle.ID))
		return
	}
	if r.offer(ev) {
		return
	}
	// One busy session must not hold up event delivery to the others.
	o.logger.Warn("Session event buffer full, delivering in background",
		zap.String("chatID", ev.Handle.ChatID),
		zap.String("handle", ev.Handle.ID))
	go r.notify(ev)
}

// Runner returns the live runner for a chat, or nil.
func (o *Orchestrator) Runner(chatID string) *Runner {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runners[chatID]
}

// ActiveSessions returns the number of live runners.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.runners)
}

// GetOrStart returns the runner for a chat, creating it (and restoring any
// saved queue) when none is live.
func (o *Orchestrator) GetOrStart(ctx context.Context, chatID string) (*Runner, error) {
	if r := o.Runner(chatID); r != nil {
		return r, nil
	}

	snapshot := o.loadSnapshot(ctx, chatID)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrSessionClosed
	}
	if r, ok := o.runners[chatID]; ok {
		return r, nil
	}

	r := newRunner(o, chatID, snapshot)
	o.runners[chatID] = r
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		r.run(o.baseCtx)
		o.remove(r)
	}()

	o.logger.Info("Session started", zap.String("chatID", chatID), zap.Bool("restored", !snapshot.Empty()))
	return r, nil
}

func (o *Orchestrator) remove(r *Runner) {
	o.mu.Lock()
	if o.runners[r.chatID] == r {
		delete(o.runners, r.chatID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) loadSnapshot(ctx context.Context, chatID string) *QueueSnapshot {
	if o.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, durationOr(o.config.Session.CommandTimeout, DefaultCommandTimeout))
	defer cancel()

	snapshot, err := o.store.LoadQueueState(ctx, chatID)
	if err != nil {
		o.logger.Warn("Failed to load queue state", zap.String("chatID", chatID), zap.Error(err))
		return nil
	}
	return snapshot
}

// openStream waits for sink capacity and opens a stream, retrying transient
// faults with backoff. On success the caller owns one stream slot.
func (o *Orchestrator) openStream(ctx context.Context, chatID string, artifact *Artifact) (StreamHandle, error) {
	if o.streams != nil {
		if err := o.streams.Acquire(ctx, 1); err != nil {
			return StreamHandle{}, fmt.Errorf("%w: waiting for sink capacity: %w", ErrStreamOpenFailed, err)
		}
	}

	var handle StreamHandle
	err := Retry(ctx, o.config.Playback.StreamAttempts, o.config.Playback.Backoff,
		func(ctx context.Context, attempt int) error {
			openCtx, cancel := context.WithTimeout(ctx, o.config.Playback.OpenTimeout)
			defer cancel()

			h, err := o.sink.OpenStream(openCtx, chatID, artifact)
			if err != nil {
				o.logger.Warn("Stream open failed",
					zap.String("chatID", chatID),
					zap.Int("attempt", attempt),
					zap.Error(err))
				return fmt.Errorf("%w: %w", ErrStreamError, err)
			}
			handle = h
			return nil
		})
	if err != nil {
		o.releaseSlot()
		return StreamHandle{}, fmt.Errorf("%w: %w", ErrStreamOpenFailed, err)
	}
	return handle, nil
}

func (o *Orchestrator) releaseSlot() {
	if o.streams != nil {
		o.streams.Release(1)
	}
}

// closeStream closes a handle and frees its slot.
func (o *Orchestrator) closeStream(handle StreamHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.Playback.SinkTimeout)
	defer cancel()

	if err := o.sink.CloseStream(ctx, handle); err != nil {
		o.logger.Warn("Failed to close stream",
			zap.String("chatID", handle.ChatID),
			zap.String("handle", handle.ID),
			zap.Error(err))
	}
	o.releaseSlot()
}

func (o *Orchestrator) persist(chatID string, snapshot *QueueSnapshot) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), durationOr(o.config.Session.CommandTimeout, DefaultCommandTimeout))
	defer cancel()

	if err := o.store.SaveQueueState(ctx, chatID, snapshot); err != nil {
		o.logger.Warn("Failed to save queue state", zap.String("chatID", chatID), zap.Error(err))
	}
}

func (o *Orchestrator) forget(chatID string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), durationOr(o.config.Session.CommandTimeout, DefaultCommandTimeout))
	defer cancel()

	if err := o.store.DeleteQueueState(ctx, chatID); err != nil {
		o.logger.Warn("Failed to delete queue state", zap.String("chatID", chatID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(event Event) {
	if o.events != nil {
		o.events.Publish(event)
	}
}

// sinkCall runs a short sink command with the configured timeout.
func (o *Orchestrator) sinkCall(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.Playback.SinkTimeout)
	defer cancel()
	return fn(ctx)
}

// durationOr returns d when positive, otherwise fallback.
func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
