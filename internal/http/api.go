package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"groovecast/internal/core"
	"groovecast/internal/i18n"
)

const maxBodyBytes = 4096

// Sessions is the command surface the API drives.
type Sessions interface {
	Play(ctx context.Context, chatID, query, requestedBy string) (*core.PlayResult, error)
	Pause(ctx context.Context, chatID string) error
	Resume(ctx context.Context, chatID string) error
	Skip(ctx context.Context, chatID string) error
	Stop(ctx context.Context, chatID string) error
	SetLoop(ctx context.Context, chatID string, mode core.LoopMode) error
	ListQueue(ctx context.Context, chatID string) ([]core.TrackDescriptor, error)
	Status(ctx context.Context, chatID string) (core.SessionStatus, error)
}

// API binds session commands to HTTP routes.
type API struct {
	sessions  Sessions
	localizer *i18n.Localizer
	metrics   *Metrics
	logger    *zap.Logger
}

func NewAPI(sessions Sessions, localizer *i18n.Localizer, metrics *Metrics, logger *zap.Logger) *API {
	return &API{sessions: sessions, localizer: localizer, metrics: metrics, logger: logger}
}

type playRequest struct {
	Query string `json:"query"`
	User  string `json:"user"`
}

type playResponse struct {
	Track      core.TrackDescriptor   `json:"track"`
	Position   uint64                 `json:"position"`
	Alternates []core.TrackDescriptor `json:"alternates,omitempty"`
	Message    string                 `json:"message"`
}

type loopRequest struct {
	Mode string `json:"mode"`
}

type queueResponse struct {
	ChatID string                 `json:"chat_id"`
	Tracks []core.TrackDescriptor `json:"tracks"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error      string                 `json:"error"`
	Kind       string                 `json:"kind"`
	Message    string                 `json:"message"`
	Candidates []core.TrackDescriptor `json:"candidates,omitempty"`
}

// Register mounts the command routes on router.
func (a *API) Register(router *mux.Router) {
	router.HandleFunc("/chats/{chatID}", a.handleStatus).Methods(http.MethodGet)

	chats := router.PathPrefix("/chats/{chatID}").Subrouter()
	chats.HandleFunc("/queue", a.handleQueue).Methods(http.MethodGet)
	chats.HandleFunc("/play", a.handlePlay).Methods(http.MethodPost)
	chats.HandleFunc("/pause", a.command("pause", a.sessions.Pause, "reply.paused")).Methods(http.MethodPost)
	chats.HandleFunc("/resume", a.command("resume", a.sessions.Resume, "reply.resumed")).Methods(http.MethodPost)
	chats.HandleFunc("/skip", a.command("skip", a.sessions.Skip, "reply.skipped")).Methods(http.MethodPost)
	chats.HandleFunc("/stop", a.command("stop", a.sessions.Stop, "reply.stopped")).Methods(http.MethodPost)
	chats.HandleFunc("/loop", a.handleLoop).Methods(http.MethodPut)
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatID"]

	var req playRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.sessions.Play(r.Context(), chatID, req.Query, req.User)
	a.record("play", err)
	if err != nil {
		a.writeCommandError(w, chatID, err)
		return
	}

	message := a.localizer.T("play.queued", result.Track.DisplayName(), result.Position)
	if status, err := a.sessions.Status(r.Context(), chatID); err == nil &&
		status.Current != nil && status.Current.Fingerprint == result.Track.Fingerprint && status.QueueLength == 0 {
		message = a.localizer.T("play.started", result.Track.DisplayName())
	}

	writeJSON(w, http.StatusAccepted, playResponse{
		Track:      result.Track,
		Position:   result.Position,
		Alternates: result.Alternates,
		Message:    message,
	})
}

func (a *API) command(name string, fn func(context.Context, string) error, replyKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := mux.Vars(r)["chatID"]
		err := fn(r.Context(), chatID)
		a.record(name, err)
		if err != nil {
			a.writeCommandError(w, chatID, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: a.localizer.T(replyKey)})
	}
}

func (a *API) handleLoop(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatID"]

	var req loopRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := core.ParseLoopMode(req.Mode)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	err = a.sessions.SetLoop(r.Context(), chatID, mode)
	a.record("loop", err)
	if err != nil {
		a.writeCommandError(w, chatID, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: a.localizer.T("loop.set", mode.String())})
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatID"]
	tracks, err := a.sessions.ListQueue(r.Context(), chatID)
	if err != nil {
		a.writeCommandError(w, chatID, err)
		return
	}
	if tracks == nil {
		tracks = []core.TrackDescriptor{}
	}
	writeJSON(w, http.StatusOK, queueResponse{ChatID: chatID, Tracks: tracks})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatID"]
	status, err := a.sessions.Status(r.Context(), chatID)
	if err != nil {
		a.writeCommandError(w, chatID, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) record(command string, err error) {
	if a.metrics != nil {
		a.metrics.RecordCommand(command, err)
	}
}

func (a *API) writeCommandError(w http.ResponseWriter, chatID string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("Command failed", zap.String("chatID", chatID), zap.Error(err))
	}
	a.writeError(w, status, err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	kind := core.KindOf(err)
	resp := errorResponse{
		Error:   err.Error(),
		Kind:    kind.String(),
		Message: a.localizer.Reason(kind),
	}
	var ambiguous *core.AmbiguousQueryError
	if errors.As(err, &ambiguous) {
		resp.Candidates = ambiguous.Candidates
		resp.Message = a.localizer.T("play.ambiguous")
	}
	writeJSON(w, status, resp)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindInvalidCommand, core.KindSessionClosed:
		return http.StatusConflict
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindAmbiguousQuery:
		return http.StatusUnprocessableEntity
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindPlatformUnavailable:
		return http.StatusServiceUnavailable
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(core.ErrInvalidCommand, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
