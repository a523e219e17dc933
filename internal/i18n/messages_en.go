package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Events
	"event.now_playing":   "🎵 Now playing: %s",
	"event.queue_ended":   "The queue is empty. Add more with /play.",
	"event.track_failed":  "⚠️ Skipped %s: %s",
	"event.session_error": "❌ Playback stopped: %s",

	// Command replies
	"play.started":   "▶️ Playing %s",
	"play.queued":    "Added %s to the queue (position %d)",
	"play.ambiguous": "Which one do you mean?",
	"reply.paused":   "⏸ Paused",
	"reply.resumed":  "▶️ Resumed",
	"reply.skipped":  "⏭ Skipped",
	"reply.stopped":  "⏹ Stopped and cleared the queue",
	"loop.set":       "🔁 Loop mode: %s",
	"queue.empty":    "The queue is empty.",
	"queue.header":   "Up next:",

	// Error kinds
	"reason.none":                 "no error",
	"reason.not_found":            "no match found",
	"reason.ambiguous_query":      "the request matches several tracks",
	"reason.platform_unavailable": "the music platform is unavailable",
	"reason.fetch_failed":         "the track could not be downloaded",
	"reason.stream_open_failed":   "the stream could not be started",
	"reason.stream_error":         "the voice connection was lost",
	"reason.invalid_command":      "that command is not possible right now",
	"reason.rate_limited":         "too many requests, slow down",
	"reason.session_closed":       "the session has ended",
	"reason.timeout":              "the request timed out",
	"reason.internal":             "something went wrong",
}
