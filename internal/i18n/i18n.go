// Package i18n renders user-facing messages and events in the configured language.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"

	"groovecast/internal/core"
)

const (
	// DefaultLanguage is the fallback language when no translation is available
	DefaultLanguage = "en"
	GermanMessages  = "de"
)

var matcher = language.NewMatcher([]language.Tag{language.English, language.German})

// Localizer provides translation functionality
type Localizer struct {
	language string
	messages map[string]string
}

// NewLocalizer creates a localizer for the closest supported match of
// language, which may be a BCP 47 tag such as "de-CH".
func NewLocalizer(lang string) *Localizer {
	resolved := Resolve(lang)
	return &Localizer{
		language: resolved,
		messages: getMessages(resolved),
	}
}

// Resolve maps a requested language to a supported language code.
func Resolve(lang string) string {
	_, index := language.MatchStrings(matcher, lang)
	return GetSupportedLanguages()[index]
}

// Language returns the language the localizer renders in.
func (l *Localizer) Language() string {
	return l.language
}

// T translates a message key, with optional parameters for formatting
func (l *Localizer) T(key string, args ...interface{}) string {
	if message, exists := l.messages[key]; exists {
		return format(message, args)
	}

	if l.language != DefaultLanguage {
		if fallback, exists := getMessages(DefaultLanguage)[key]; exists {
			return format(fallback, args)
		}
	}

	return key
}

func format(message string, args []interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(message, args...)
	}
	return message
}

// Reason renders an error kind as a short explanation.
func (l *Localizer) Reason(kind core.ErrorKind) string {
	return l.T("reason." + kind.String())
}

// Event renders an outbound event as a chat message.
func (l *Localizer) Event(event core.Event) string {
	switch event.Type {
	case core.EventNowPlaying:
		return l.T("event.now_playing", trackName(event.Track))
	case core.EventQueueEnded:
		return l.T("event.queue_ended")
	case core.EventTrackFailed:
		return l.T("event.track_failed", trackName(event.Track), l.Reason(event.Kind))
	case core.EventSessionError:
		return l.T("event.session_error", l.Reason(event.Kind))
	default:
		return event.Name
	}
}

func trackName(track *core.TrackDescriptor) string {
	if track == nil {
		return "?"
	}
	return track.DisplayName()
}

// GetSupportedLanguages returns list of supported language codes, default first.
func GetSupportedLanguages() []string {
	return []string{DefaultLanguage, GermanMessages}
}

func getMessages(language string) map[string]string {
	switch language {
	case GermanMessages:
		return germanMessages
	default:
		return englishMessages
	}
}
