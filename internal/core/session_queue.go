package core

import (
	"fmt"
	"time"
)

// ErrQueueFull is returned by Enqueue when the pending items reach the limit.
var ErrQueueFull = fmt.Errorf("%w: queue is full", ErrInvalidCommand)

// SessionQueue is the per-chat playback state machine. It is not safe for
// concurrent use; a Runner owns it exclusively.
type SessionQueue struct {
	chatID    string
	items     []QueueItem
	current   *QueueItem
	state     PlaybackState
	loop      LoopMode
	nextPos   uint64
	limit     int
	lastError error
}

func NewSessionQueue(chatID string) *SessionQueue {
	return &SessionQueue{chatID: chatID, state: StateIdle}
}

// Restore loads a saved snapshot into an idle queue. An unfinished current
// item goes back to the front so it is played first.
func (q *SessionQueue) Restore(s *QueueSnapshot) {
	if s == nil {
		return
	}
	q.loop = s.LoopMode
	q.nextPos = s.NextPosition
	q.items = q.items[:0]
	if s.Current != nil {
		q.items = append(q.items, *s.Current)
	}
	q.items = append(q.items, s.Items...)
	for _, it := range q.items {
		if it.Position >= q.nextPos {
			q.nextPos = it.Position + 1
		}
	}
}

// SetLimit caps the number of pending items; 0 removes the cap. A restored
// queue above the cap keeps its items but accepts no more until it drains.
func (q *SessionQueue) SetLimit(n int) { q.limit = n }

func (q *SessionQueue) ChatID() string         { return q.chatID }
func (q *SessionQueue) State() PlaybackState   { return q.state }
func (q *SessionQueue) LoopMode() LoopMode     { return q.loop }
func (q *SessionQueue) Current() *QueueItem    { return q.current }
func (q *SessionQueue) Pending() int           { return len(q.items) }
func (q *SessionQueue) LastError() error       { return q.lastError }
func (q *SessionQueue) SetLastError(err error) { q.lastError = err }

// Enqueue appends a track. It reports whether the session left Idle and the
// new current item needs loading.
func (q *SessionQueue) Enqueue(track TrackDescriptor) (QueueItem, bool, error) {
	if q.state == StateStopped {
		return QueueItem{}, false, ErrSessionClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return QueueItem{}, false, fmt.Errorf("%w (%d pending)", ErrQueueFull, len(q.items))
	}

	item := QueueItem{Track: track, Position: q.nextPos}
	q.nextPos++
	q.items = append(q.items, item)

	if q.state == StateIdle {
		q.popNext()
		return item, true, nil
	}
	return item, false, nil
}

// StartPending moves an idle queue with restored items to Loading.
func (q *SessionQueue) StartPending() bool {
	if q.state != StateIdle || len(q.items) == 0 {
		return false
	}
	q.popNext()
	return true
}

// MarkPlaying records that the current item's stream is open.
func (q *SessionQueue) MarkPlaying() error {
	if q.state != StateLoading || q.current == nil {
		return q.invalid("start playback")
	}
	q.state = StatePlaying
	return nil
}

// MarkReloading records that the current item's stream is being reopened.
func (q *SessionQueue) MarkReloading() error {
	if q.state != StatePlaying && q.state != StatePaused {
		return q.invalid("reopen stream")
	}
	q.state = StateLoading
	return nil
}

func (q *SessionQueue) Pause() error {
	if q.state != StatePlaying {
		return q.invalid("pause")
	}
	q.state = StatePaused
	return nil
}

func (q *SessionQueue) Resume() error {
	if q.state != StatePaused {
		return q.invalid("resume")
	}
	q.state = StatePlaying
	return nil
}

// Skip abandons the current item. The caller releases whatever the returned
// item holds and then calls Advance(true).
func (q *SessionQueue) Skip() (*QueueItem, error) {
	switch q.state {
	case StatePlaying, StatePaused, StateLoading:
	default:
		return nil, q.invalid("skip")
	}
	q.state = StateSkipping
	return q.current, nil
}

// SetLoopMode takes effect on the next advance.
func (q *SessionQueue) SetLoopMode(mode LoopMode) error {
	if q.state == StateStopped {
		return ErrSessionClosed
	}
	if mode < LoopOff || mode > LoopQueue {
		return fmt.Errorf("%w: unknown loop mode %d", ErrInvalidCommand, mode)
	}
	q.loop = mode
	return nil
}

// Stop clears the queue and terminates the session. It returns the item that
// was current so the caller can release it.
func (q *SessionQueue) Stop() (*QueueItem, error) {
	if q.state == StateStopped {
		return nil, q.invalid("stop")
	}
	prev := q.current
	q.current = nil
	q.items = nil
	q.state = StateStopped
	return prev, nil
}

// Advance finishes the current item according to the loop mode and moves to
// the next one. When abandoned is true (skip or failure) Track loop does not
// repeat the item. It returns the new current item, or nil when the session
// went Idle.
func (q *SessionQueue) Advance(abandoned bool) *QueueItem {
	if q.state == StateStopped {
		return nil
	}

	if cur := q.current; cur != nil {
		switch {
		case q.loop == LoopTrack && !abandoned:
			q.items = append([]QueueItem{*cur}, q.items...)
		case q.loop == LoopQueue:
			moved := *cur
			moved.Position = q.nextPos
			q.nextPos++
			q.items = append(q.items, moved)
		}
		q.current = nil
	}

	if len(q.items) == 0 {
		q.state = StateIdle
		return nil
	}
	q.popNext()
	return q.current
}

func (q *SessionQueue) popNext() {
	next := q.items[0]
	q.items = q.items[1:]
	q.current = &next
	q.state = StateLoading
}

// List returns the current item followed by the pending items.
func (q *SessionQueue) List() []TrackDescriptor {
	out := make([]TrackDescriptor, 0, len(q.items)+1)
	if q.current != nil {
		out = append(out, q.current.Track)
	}
	for _, it := range q.items {
		out = append(out, it.Track)
	}
	return out
}

func (q *SessionQueue) Snapshot() *QueueSnapshot {
	s := &QueueSnapshot{
		ChatID:       q.chatID,
		Items:        make([]QueueItem, len(q.items)),
		LoopMode:     q.loop,
		NextPosition: q.nextPos,
		SavedAt:      time.Now(),
	}
	copy(s.Items, q.items)
	if q.current != nil {
		cur := *q.current
		s.Current = &cur
	}
	return s
}

func (q *SessionQueue) Status() SessionStatus {
	st := SessionStatus{
		ChatID:      q.chatID,
		State:       q.state.String(),
		LoopMode:    q.loop.String(),
		QueueLength: len(q.items),
	}
	if q.current != nil {
		track := q.current.Track
		st.Current = &track
	}
	if q.lastError != nil {
		st.LastError = q.lastError.Error()
	}
	return st
}

func (q *SessionQueue) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidCommand, op, q.state)
}
