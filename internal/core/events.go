package core

import (
	"fmt"
	"time"
)

type EventType int

const (
	EventNowPlaying EventType = iota
	EventQueueEnded
	EventTrackFailed
	EventSessionError
)

func (t EventType) String() string {
	switch t {
	case EventNowPlaying:
		return "now_playing"
	case EventQueueEnded:
		return "queue_ended"
	case EventTrackFailed:
		return "track_failed"
	case EventSessionError:
		return "session_error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted to the notification layer. Track is set for NowPlaying and
// TrackFailed; Kind and Message are set for TrackFailed and SessionError.
type Event struct {
	Type    EventType        `json:"-"`
	Name    string           `json:"type"`
	ChatID  string           `json:"chat_id"`
	Track   *TrackDescriptor `json:"track,omitempty"`
	Kind    ErrorKind        `json:"-"`
	Reason  string           `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
	Time    time.Time        `json:"time"`
}

func newEvent(t EventType, chatID string) Event {
	return Event{Type: t, Name: t.String(), ChatID: chatID, Time: time.Now()}
}

// NowPlaying builds a NowPlaying event.
func NowPlaying(chatID string, track TrackDescriptor) Event {
	e := newEvent(EventNowPlaying, chatID)
	e.Track = &track
	return e
}

// QueueEnded builds a QueueEnded event.
func QueueEnded(chatID string) Event {
	return newEvent(EventQueueEnded, chatID)
}

// TrackFailed builds a TrackFailed event classified by err.
func TrackFailed(chatID string, track TrackDescriptor, err error) Event {
	e := newEvent(EventTrackFailed, chatID)
	e.Track = &track
	e.Kind = KindOf(err)
	e.Reason = e.Kind.String()
	e.Message = err.Error()
	return e
}

// SessionError builds a SessionError event classified by err.
func SessionError(chatID string, err error) Event {
	e := newEvent(EventSessionError, chatID)
	e.Kind = KindOf(err)
	e.Reason = e.Kind.String()
	e.Message = err.Error()
	return e
}

// EventSink receives outbound events. Publish must not block for long; it is
// called from session tasks.
type EventSink interface {
	Publish(event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(event Event) { f(event) }

// MultiEventSink fans an event out to several sinks in order.
type MultiEventSink []EventSink

func (m MultiEventSink) Publish(event Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(event)
		}
	}
}
