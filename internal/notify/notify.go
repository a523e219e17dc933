// Package notify delivers outbound session events to people.
package notify

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"groovecast/internal/core"
	"groovecast/internal/i18n"
)

// LogNotifier renders events through the localizer and writes them to the log.
// It stands in for a chat frontend.
type LogNotifier struct {
	localizer *i18n.Localizer
	logger    *zap.Logger
}

func NewLogNotifier(localizer *i18n.Localizer, logger *zap.Logger) *LogNotifier {
	return &LogNotifier{localizer: localizer, logger: logger}
}

func (n *LogNotifier) Publish(event core.Event) {
	fields := []zap.Field{
		zap.String("chat_id", event.ChatID),
		zap.String("event", event.Name),
		zap.String("text", n.localizer.Event(event)),
	}
	if event.Track != nil {
		fields = append(fields, zap.String("fingerprint", event.Track.Fingerprint))
	}

	switch event.Type {
	case core.EventTrackFailed, core.EventSessionError:
		n.logger.Warn("Chat notification", append(fields, zap.String("reason", event.Reason), zap.String("error", event.Message))...)
	default:
		n.logger.Info("Chat notification", fields...)
	}
}

// Async decouples slow sinks from session tasks. Events published while the
// buffer is full are dropped and counted.
type Async struct {
	next    core.EventSink
	events  chan core.Event
	dropped atomic.Int64
	logger  *zap.Logger
}

func NewAsync(next core.EventSink, buffer int, logger *zap.Logger) *Async {
	if buffer < 1 {
		buffer = 1
	}
	return &Async{next: next, events: make(chan core.Event, buffer), logger: logger}
}

func (a *Async) Publish(event core.Event) {
	select {
	case a.events <- event:
	default:
		a.dropped.Add(1)
		a.logger.Warn("Notification buffer full, dropping event",
			zap.String("chat_id", event.ChatID),
			zap.String("event", event.Name))
	}
}

// Dropped returns the number of events lost to a full buffer.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Run delivers buffered events until ctx is done, then drains what is left.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case event := <-a.events:
			a.next.Publish(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-a.events:
					a.next.Publish(event)
				default:
					return nil
				}
			}
		}
	}
}
