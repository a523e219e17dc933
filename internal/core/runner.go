package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// sinkEventBuffer is the per-session buffer for routed transport events.
	sinkEventBuffer = 32
	// maxEarlyEvents caps events held for a handle whose open result has not arrived yet.
	maxEarlyEvents = 4
)

type commandKind int

const (
	cmdEnqueue commandKind = iota
	cmdPause
	cmdResume
	cmdSkip
	cmdStop
	cmdSetLoop
	cmdList
	cmdStatus
)

type command struct {
	kind  commandKind
	track TrackDescriptor
	mode  LoopMode
	reply chan commandResult
}

type commandResult struct {
	item   QueueItem
	tracks []TrackDescriptor
	status SessionStatus
	err    error
}

// fetchResult and openResult carry the generation they were started under;
// results from an older generation are stale and only have their resources freed.
type fetchResult struct {
	gen      uint64
	item     QueueItem
	artifact *Artifact
	err      error
}

type openResult struct {
	gen    uint64
	handle StreamHandle
	reopen bool
	// paused is set when the stream was lost while the session was paused.
	paused bool
	err    error
}

// Runner is the task owning one chat's SessionQueue. All state transitions
// happen on its goroutine; other goroutines talk to it through channels.
type Runner struct {
	o      *Orchestrator
	chatID string
	queue  *SessionQueue
	logger *zap.Logger

	cmds       chan command
	sinkEvents chan SinkEvent
	results    chan any
	done       chan struct{}

	gen      uint64
	cancelOp context.CancelFunc
	artifact *Artifact
	handle   *StreamHandle
	early    map[string][]SinkEvent

	sinkFailures int
	idleTimer    *time.Timer
}

func newRunner(o *Orchestrator, chatID string, snapshot *QueueSnapshot) *Runner {
	q := NewSessionQueue(chatID)
	q.SetLimit(o.config.Session.MaxQueueLength)
	q.Restore(snapshot)

	return &Runner{
		o:          o,
		chatID:     chatID,
		queue:      q,
		logger:     o.logger.With(zap.String("chatID", chatID)),
		cmds:       make(chan command, intOr(o.config.Session.CommandBuffer, DefaultCommandBuffer)),
		sinkEvents: make(chan SinkEvent, sinkEventBuffer),
		results:    make(chan any, 1),
		done:       make(chan struct{}),
		early:      make(map[string][]SinkEvent),
	}
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Done is closed when the runner has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) notify(ev SinkEvent) {
	select {
	case r.sinkEvents <- ev:
	case <-r.done:
	}
}

// offer hands an event to the runner without waiting. It reports false when
// the buffer is full.
func (r *Runner) offer(ev SinkEvent) bool {
	select {
	case r.sinkEvents <- ev:
		return true
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Runner) deliver(res any) {
	select {
	case <-r.done:
		r.discard(res)
		return
	default:
	}

	select {
	case r.results <- res:
	case <-r.done:
		r.discard(res)
	}
}

// do submits a command and waits for its result.
func (r *Runner) do(ctx context.Context, cmd command) commandResult {
	cmd.reply = make(chan commandResult, 1)

	select {
	case r.cmds <- cmd:
	case <-r.done:
		return commandResult{err: ErrSessionClosed}
	case <-ctx.Done():
		return commandResult{err: ctx.Err()}
	}

	select {
	case res := <-cmd.reply:
		return res
	case <-r.done:
		// The runner may have answered just before exiting.
		select {
		case res := <-cmd.reply:
			return res
		default:
			return commandResult{err: ErrSessionClosed}
		}
	case <-ctx.Done():
		return commandResult{err: ctx.Err()}
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	if r.queue.StartPending() {
		r.startCurrent(ctx)
	}
	r.syncIdleTimer()

	for {
		var idle <-chan time.Time
		if r.idleTimer != nil {
			idle = r.idleTimer.C
		}

		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case cmd := <-r.cmds:
			cmd.reply <- r.handleCommand(ctx, cmd)
		case ev := <-r.sinkEvents:
			r.handleSinkEvent(ctx, ev)
		case res := <-r.results:
			r.handleResult(ctx, res)
		case <-idle:
			r.idleTimer = nil
			if r.queue.State() == StateIdle {
				r.logger.Info("Session idle timeout")
				r.terminate()
			}
		}

		if r.queue.State() == StateStopped {
			r.stopIdleTimer()
			r.o.forget(r.chatID)
			r.logger.Info("Session stopped")
			return
		}
		r.syncIdleTimer()
	}
}

func (r *Runner) handleCommand(ctx context.Context, cmd command) commandResult {
	switch cmd.kind {
	case cmdEnqueue:
		item, started, err := r.queue.Enqueue(cmd.track)
		if err != nil {
			return commandResult{err: err}
		}
		if started {
			r.startCurrent(ctx)
		}
		r.persist()
		return commandResult{item: item}

	case cmdPause:
		if err := r.queue.Pause(); err != nil {
			return commandResult{err: err}
		}
		if err := r.sinkControl(r.o.sink.Pause); err != nil {
			_ = r.queue.Resume()
			return commandResult{err: err}
		}
		return commandResult{}

	case cmdResume:
		if err := r.queue.Resume(); err != nil {
			return commandResult{err: err}
		}
		if err := r.sinkControl(r.o.sink.Resume); err != nil {
			_ = r.queue.Pause()
			return commandResult{err: err}
		}
		return commandResult{}

	case cmdSkip:
		if _, err := r.queue.Skip(); err != nil {
			return commandResult{err: err}
		}
		r.abandonCurrent()
		r.advance(ctx, true)
		return commandResult{}

	case cmdStop:
		r.terminate()
		return commandResult{}

	case cmdSetLoop:
		if err := r.queue.SetLoopMode(cmd.mode); err != nil {
			return commandResult{err: err}
		}
		r.persist()
		return commandResult{}

	case cmdList:
		return commandResult{tracks: r.queue.List()}

	case cmdStatus:
		return commandResult{status: r.queue.Status()}
	}
	return commandResult{err: fmt.Errorf("%w: unknown command %d", ErrInvalidCommand, cmd.kind)}
}

func (r *Runner) sinkControl(fn func(ctx context.Context, handle StreamHandle) error) error {
	if r.handle == nil {
		return fmt.Errorf("%w: no live stream", ErrInvalidCommand)
	}
	handle := *r.handle
	if err := r.o.sinkCall(func(ctx context.Context) error { return fn(ctx, handle) }); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamError, err)
	}
	return nil
}

// startCurrent begins fetching the current item under a new generation.
func (r *Runner) startCurrent(ctx context.Context) {
	cur := r.queue.Current()
	if cur == nil {
		return
	}
	item := *cur

	gen, opCtx := r.newGeneration(ctx)
	r.logger.Debug("Loading track",
		zap.String("fingerprint", item.Track.Fingerprint),
		zap.String("title", item.Track.Title))

	go func() {
		artifact, err := r.o.cache.Acquire(opCtx, item.Track)
		r.deliver(fetchResult{gen: gen, item: item, artifact: artifact, err: err})
	}()
}

func (r *Runner) newGeneration(ctx context.Context) (uint64, context.Context) {
	r.cancelInFlight()
	r.gen++
	opCtx, cancel := context.WithCancel(ctx)
	r.cancelOp = cancel
	return r.gen, opCtx
}

func (r *Runner) cancelInFlight() {
	if r.cancelOp != nil {
		r.cancelOp()
		r.cancelOp = nil
	}
}

func (r *Runner) handleResult(ctx context.Context, res any) {
	switch res := res.(type) {
	case fetchResult:
		if res.gen != r.gen {
			r.discard(res)
			return
		}
		r.onFetched(ctx, res)
	case openResult:
		if res.gen != r.gen {
			r.discard(res)
			return
		}
		r.onOpened(ctx, res)
	}
}

// discard frees resources carried by a result nobody will apply.
func (r *Runner) discard(res any) {
	switch res := res.(type) {
	case fetchResult:
		if res.err == nil && res.artifact != nil {
			r.o.cache.Release(res.artifact.Fingerprint)
		}
	case openResult:
		if res.err == nil {
			r.o.closeStream(res.handle)
		}
	}
}

func (r *Runner) onFetched(ctx context.Context, res fetchResult) {
	if res.err != nil {
		err := res.err
		if KindOf(err) != KindFetchFailed {
			err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		r.failTrack(ctx, res.item.Track, err)
		return
	}

	r.artifact = res.artifact
	r.openCurrent(ctx, false, false)
}

// openCurrent opens a stream for the held artifact under a new generation.
func (r *Runner) openCurrent(ctx context.Context, reopen, paused bool) {
	artifact := r.artifact
	gen, opCtx := r.newGeneration(ctx)

	go func() {
		handle, err := r.o.openStream(opCtx, r.chatID, artifact)
		r.deliver(openResult{gen: gen, handle: handle, reopen: reopen, paused: paused, err: err})
	}()
}

func (r *Runner) onOpened(ctx context.Context, res openResult) {
	cur := r.queue.Current()
	if cur == nil {
		r.discard(res)
		return
	}

	if res.err != nil {
		if res.reopen {
			r.releaseArtifact()
			r.fail(fmt.Errorf("%w: stream lost and could not be reopened: %v", ErrStreamError, res.err))
			return
		}

		r.sinkFailures++
		r.releaseArtifact()
		if r.sinkFailures >= r.o.config.Playback.MaxSinkFailures {
			r.o.publish(TrackFailed(r.chatID, cur.Track, res.err))
			r.fail(fmt.Errorf("%w: %d consecutive tracks could not be streamed", ErrStreamOpenFailed, r.sinkFailures))
			return
		}
		r.failTrack(ctx, cur.Track, res.err)
		return
	}

	r.handle = &res.handle
	r.sinkFailures = 0
	if err := r.queue.MarkPlaying(); err != nil {
		r.logger.Error("Unexpected state on stream open", zap.Error(err))
	}
	r.queue.SetLastError(nil)

	if res.paused {
		r.restorePause()
	}

	if !res.reopen {
		r.logger.Info("Now playing",
			zap.String("title", cur.Track.Title),
			zap.String("platform", string(cur.Track.Platform)))
		r.o.publish(NowPlaying(r.chatID, cur.Track))
	}

	early := r.early[res.handle.ID]
	r.early = make(map[string][]SinkEvent)
	for _, ev := range early {
		r.handleSinkEvent(ctx, ev)
	}
}

func (r *Runner) handleSinkEvent(ctx context.Context, ev SinkEvent) {
	if r.handle == nil || r.handle.ID != ev.Handle.ID {
		// An open may have succeeded on the transport before its result reached us.
		if r.queue.State() == StateLoading && len(r.early[ev.Handle.ID]) < maxEarlyEvents {
			r.early[ev.Handle.ID] = append(r.early[ev.Handle.ID], ev)
			return
		}
		r.logger.Debug("Ignoring event for stale stream", zap.String("handle", ev.Handle.ID))
		return
	}

	switch ev.Type {
	case SinkTrackEnded:
		r.closeHandle()
		r.releaseArtifact()
		r.advance(ctx, false)

	case SinkStreamError:
		paused := r.queue.State() == StatePaused
		r.logger.Warn("Stream error, reopening", zap.Bool("paused", paused), zap.Error(ev.Err))
		r.queue.SetLastError(ev.Err)
		r.closeHandle()
		if err := r.queue.MarkReloading(); err != nil {
			r.logger.Error("Unexpected state on stream error", zap.Error(err))
			return
		}
		r.openCurrent(ctx, true, paused)
	}
}

// restorePause puts a reopened stream back into the paused state it was lost in.
// If the transport refuses, the session stays Playing to match what it hears.
func (r *Runner) restorePause() {
	if err := r.sinkControl(r.o.sink.Pause); err != nil {
		r.logger.Warn("Failed to pause reopened stream", zap.Error(err))
		return
	}
	if err := r.queue.Pause(); err != nil {
		r.logger.Error("Unexpected state on paused reopen", zap.Error(err))
	}
}

// failTrack reports a track that could not be played and moves on.
func (r *Runner) failTrack(ctx context.Context, track TrackDescriptor, err error) {
	r.logger.Warn("Track failed",
		zap.String("title", track.Title),
		zap.String("kind", KindOf(err).String()),
		zap.Error(err))
	r.queue.SetLastError(err)
	r.o.publish(TrackFailed(r.chatID, track, err))
	r.advance(ctx, true)
}

// fail stops the session because the transport is unusable.
func (r *Runner) fail(err error) {
	r.logger.Error("Session failed", zap.Error(err))
	r.queue.SetLastError(err)
	r.o.publish(SessionError(r.chatID, err))
	r.terminate()
}

func (r *Runner) advance(ctx context.Context, abandoned bool) {
	if next := r.queue.Advance(abandoned); next != nil {
		r.startCurrent(ctx)
	} else {
		r.cancelInFlight()
		r.o.publish(QueueEnded(r.chatID))
	}
	r.persist()
}

// abandonCurrent cancels in-flight work and frees what the current item holds.
func (r *Runner) abandonCurrent() {
	r.cancelInFlight()
	r.gen++
	r.closeHandle()
	r.releaseArtifact()
}

func (r *Runner) terminate() {
	r.abandonCurrent()
	if _, err := r.queue.Stop(); err != nil && !errors.Is(err, ErrInvalidCommand) {
		r.logger.Warn("Stop failed", zap.Error(err))
	}
}

// shutdown runs when the process is going down: the queue is saved so the
// session can resume after a restart.
func (r *Runner) shutdown() {
	snapshot := r.queue.Snapshot()
	r.abandonCurrent()
	r.stopIdleTimer()
	if !snapshot.Empty() {
		r.o.persist(r.chatID, snapshot)
	}
}

func (r *Runner) closeHandle() {
	if r.handle == nil {
		return
	}
	r.o.closeStream(*r.handle)
	r.handle = nil
}

func (r *Runner) releaseArtifact() {
	if r.artifact == nil {
		return
	}
	r.o.cache.Release(r.artifact.Fingerprint)
	r.artifact = nil
}

func (r *Runner) persist() {
	if r.queue.State() == StateStopped {
		return
	}
	r.o.persist(r.chatID, r.queue.Snapshot())
}

func (r *Runner) syncIdleTimer() {
	if r.queue.State() != StateIdle {
		r.stopIdleTimer()
		return
	}
	if r.idleTimer == nil {
		r.idleTimer = time.NewTimer(durationOr(r.o.config.Session.IdleTimeout, DefaultIdleSessionExpiry))
	}
}

func (r *Runner) stopIdleTimer() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}
