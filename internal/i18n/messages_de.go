package i18n

var germanMessages = map[string]string{
	"event.now_playing":   "🎵 Jetzt läuft: %s",
	"event.queue_ended":   "Die Warteschlange ist leer. Mit /play kannst du mehr hinzufügen.",
	"event.track_failed":  "⚠️ %s übersprungen: %s",
	"event.session_error": "❌ Wiedergabe gestoppt: %s",

	"play.started":   "▶️ Spiele %s",
	"play.queued":    "%s zur Warteschlange hinzugefügt (Position %d)",
	"play.ambiguous": "Welchen Titel meinst du?",
	"reply.paused":   "⏸ Pausiert",
	"reply.resumed":  "▶️ Fortgesetzt",
	"reply.skipped":  "⏭ Übersprungen",
	"reply.stopped":  "⏹ Gestoppt, Warteschlange geleert",
	"loop.set":       "🔁 Wiederholung: %s",
	"queue.empty":    "Die Warteschlange ist leer.",
	"queue.header":   "Als Nächstes:",

	"reason.none":                 "kein Fehler",
	"reason.not_found":            "nichts gefunden",
	"reason.ambiguous_query":      "die Anfrage passt auf mehrere Titel",
	"reason.platform_unavailable": "die Musikplattform ist nicht erreichbar",
	"reason.fetch_failed":         "der Titel konnte nicht geladen werden",
	"reason.stream_open_failed":   "der Stream konnte nicht gestartet werden",
	"reason.stream_error":         "die Sprachverbindung ist abgebrochen",
	"reason.invalid_command":      "das geht gerade nicht",
	"reason.rate_limited":         "zu viele Anfragen, bitte etwas langsamer",
	"reason.session_closed":       "die Sitzung ist beendet",
	"reason.timeout":              "die Anfrage hat zu lange gedauert",
	"reason.internal":             "etwas ist schiefgelaufen",
}
