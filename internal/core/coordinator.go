package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNoSession is returned for commands on a chat without a live session.
var ErrNoSession = fmt.Errorf("%w: no active session", ErrInvalidCommand)

// PlayResult is the synchronous answer to a play command.
type PlayResult struct {
	Track      TrackDescriptor
	Position   uint64
	Alternates []TrackDescriptor
}

// Coordinator is the command façade. It resolves queries, creates sessions on
// first use and forwards session events outward.
type Coordinator struct {
	config   *Config
	resolver Resolver
	limiter  RateLimiter
	events   EventSink
	orch     *Orchestrator
	logger   *zap.Logger
}

func NewCoordinator(
	config *Config,
	resolver Resolver,
	cache TrackCache,
	sink StreamSink,
	store QueueStore,
	limiter RateLimiter,
	events EventSink,
	logger *zap.Logger,
) *Coordinator {
	c := &Coordinator{
		config:   config,
		resolver: resolver,
		limiter:  limiter,
		events:   events,
		logger:   logger,
	}
	c.orch = NewOrchestrator(config, cache, sink, store, EventSinkFunc(c.forward), logger.Named("orchestrator"))
	return c
}

// Run drives the orchestrator until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	return c.orch.Run(ctx)
}

func (c *Coordinator) forward(event Event) {
	c.logger.Debug("Session event",
		zap.String("type", event.Name),
		zap.String("chatID", event.ChatID),
		zap.String("reason", event.Reason))
	if c.events != nil {
		c.events.Publish(event)
	}
}

// Play resolves a query and appends the best match to the chat's queue. Resolver
// errors are returned without creating a session or spending rate budget.
func (c *Coordinator) Play(ctx context.Context, chatID, query, requestedBy string) (*PlayResult, error) {
	query = strings.TrimSpace(query)
	if chatID == "" || query == "" {
		return nil, fmt.Errorf("%w: chat and query are required", ErrInvalidCommand)
	}

	tracks, err := c.resolver.Resolve(ctx, query, requestedBy)
	if err != nil {
		c.logger.Info("Play query not resolved",
			zap.String("chatID", chatID),
			zap.String("query", query),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err))
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, ErrNotFound
	}
	// Only queries that would queue something count against the budget.
	if c.limiter != nil && !c.limiter.CheckMessage(chatID, requestedBy) {
		return nil, ErrRateLimited
	}

	top := tracks[0]
	// A runner can exit on idle timeout between lookup and enqueue; retry once on a fresh one.
	for attempt := 0; ; attempt++ {
		r, err := c.orch.GetOrStart(ctx, chatID)
		if err != nil {
			return nil, err
		}

		res := c.do(ctx, r, command{kind: cmdEnqueue, track: top})
		if errors.Is(res.err, ErrSessionClosed) && attempt == 0 {
			continue
		}
		if res.err != nil {
			return nil, res.err
		}

		c.logger.Info("Track queued",
			zap.String("chatID", chatID),
			zap.String("title", top.Title),
			zap.String("platform", string(top.Platform)),
			zap.Uint64("position", res.item.Position))
		return &PlayResult{Track: top, Position: res.item.Position, Alternates: tracks[1:]}, nil
	}
}

func (c *Coordinator) Pause(ctx context.Context, chatID string) error {
	return c.simple(ctx, chatID, command{kind: cmdPause})
}

func (c *Coordinator) Resume(ctx context.Context, chatID string) error {
	return c.simple(ctx, chatID, command{kind: cmdResume})
}

func (c *Coordinator) Skip(ctx context.Context, chatID string) error {
	return c.simple(ctx, chatID, command{kind: cmdSkip})
}

func (c *Coordinator) Stop(ctx context.Context, chatID string) error {
	return c.simple(ctx, chatID, command{kind: cmdStop})
}

func (c *Coordinator) SetLoop(ctx context.Context, chatID string, mode LoopMode) error {
	return c.simple(ctx, chatID, command{kind: cmdSetLoop, mode: mode})
}

// ListQueue returns the current track followed by the pending ones. For a chat
// without a live session the saved queue, if any, is listed.
func (c *Coordinator) ListQueue(ctx context.Context, chatID string) ([]TrackDescriptor, error) {
	r := c.orch.Runner(chatID)
	if r == nil {
		return c.savedQueue(ctx, chatID), nil
	}
	res := c.do(ctx, r, command{kind: cmdList})
	if errors.Is(res.err, ErrSessionClosed) {
		return c.savedQueue(ctx, chatID), nil
	}
	return res.tracks, res.err
}

// Status returns a view of the chat's live session.
func (c *Coordinator) Status(ctx context.Context, chatID string) (SessionStatus, error) {
	r := c.orch.Runner(chatID)
	if r == nil {
		return SessionStatus{}, ErrNoSession
	}
	res := c.do(ctx, r, command{kind: cmdStatus})
	if errors.Is(res.err, ErrSessionClosed) {
		return SessionStatus{}, ErrNoSession
	}
	return res.status, res.err
}

// ActiveSessions returns the number of live sessions.
func (c *Coordinator) ActiveSessions() int {
	return c.orch.ActiveSessions()
}

func (c *Coordinator) simple(ctx context.Context, chatID string, cmd command) error {
	r := c.orch.Runner(chatID)
	if r == nil {
		return ErrNoSession
	}
	res := c.do(ctx, r, cmd)
	if errors.Is(res.err, ErrSessionClosed) {
		return ErrNoSession
	}
	return res.err
}

func (c *Coordinator) do(ctx context.Context, r *Runner, cmd command) commandResult {
	ctx, cancel := context.WithTimeout(ctx, durationOr(c.config.Session.CommandTimeout, DefaultCommandTimeout))
	defer cancel()
	return r.do(ctx, cmd)
}

func (c *Coordinator) savedQueue(ctx context.Context, chatID string) []TrackDescriptor {
	snapshot := c.orch.loadSnapshot(ctx, chatID)
	if snapshot.Empty() {
		return []TrackDescriptor{}
	}
	q := NewSessionQueue(chatID)
	q.Restore(snapshot)
	return q.List()
}
