// Package api exposes the HTTP surface: session management, join and
// heartbeat, event publishing, the SSE stream and the websocket transport.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/internal/bus"
	"github.com/SorenPirat/matematik-platform/internal/relay"
	"github.com/SorenPirat/matematik-platform/internal/session"
	"github.com/SorenPirat/matematik-platform/internal/websocket"
	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// Server wires the HTTP handlers to the session service and the two event
// transports: the stream bus feeds SSE subscribers, the channel bus feeds
// websocket connections. Every publish path — REST, inbound websocket
// frames, service kicks — fans out to both, so a room's observers see the
// same events whichever transport they attached through.
type Server struct {
	sessions  *session.Service
	store     interfaces.SessionStore
	stream    interfaces.EventBus
	channel   interfaces.EventBus
	presence  *relay.PresenceWatchdog
	ws        *websocket.Handler
	keepAlive time.Duration
	log       *zap.Logger
}

// NewServer creates the HTTP server surface.
func NewServer(sessions *session.Service, store interfaces.SessionStore, stream, channel interfaces.EventBus, presence *relay.PresenceWatchdog, keepAlive time.Duration, log *zap.Logger) *Server {
	return &Server{
		sessions:  sessions,
		store:     store,
		stream:    stream,
		channel:   channel,
		presence:  presence,
		ws:        websocket.NewHandler(channel, bus.NewFanout(stream, channel), presence.Observe, log),
		keepAlive: keepAlive,
		log:       log,
	}
}

// Routes builds the route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{code}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{code}", s.handleCloseSession)
	mux.HandleFunc("POST /api/join", s.handleJoin)
	mux.HandleFunc("POST /api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/sessions/{code}/participants", s.handleListParticipants)
	mux.HandleFunc("DELETE /api/sessions/{code}/participants/{alias}", s.handleEvict)
	mux.HandleFunc("GET /api/sessions/{code}/presence", s.handlePresence)
	mux.HandleFunc("POST /api/events", s.handlePublishEvent)
	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /ws", s.ws.HandleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	return corsMiddleware(mux)
}

// corsMiddleware allows classroom clients served from other origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.CreateSession(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListActiveSessions(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*types.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.LookupSession(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.CloseSession(r.Context(), r.PathValue("code")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type joinRequest struct {
	SessionCode string `json:"session_code"`
	Alias       string `json:"alias"`
	ClientToken string `json:"client_token"`
}

type joinResponse struct {
	OK        bool      `json:"ok"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Room      string    `json:"room"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.sessions.Join(r.Context(), req.SessionCode, req.Alias, req.ClientToken)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	alias := types.NormalizeAlias(req.Alias)
	writeJSON(w, http.StatusOK, joinResponse{
		OK:        true,
		SessionID: sess.ID,
		Code:      sess.Code,
		ExpiresAt: sess.ExpiresAt,
		Room:      types.RoomID(sess.Code, alias),
	})
}

type heartbeatRequest struct {
	SessionCode string `json:"session_code"`
	Alias       string `json:"alias"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.sessions.Touch(r.Context(), req.SessionCode, req.Alias); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.sessions.ListParticipants(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if participants == nil {
		participants = []*types.Participant{}
	}
	writeJSON(w, http.StatusOK, participants)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	alias := r.PathValue("alias")
	if err := s.sessions.Evict(r.Context(), code, alias); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.presence.Forget(types.RoomID(types.CanonicalCode(code), types.NormalizeAlias(alias)))
	w.WriteHeader(http.StatusNoContent)
}

// handlePresence reports the effective presence state of each participant
// room in a session, for the teacher overview.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.LookupSession(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	participants, err := s.sessions.ListParticipants(r.Context(), sess.Code)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	statuses := make(map[string]string, len(participants))
	for _, p := range participants {
		statuses[p.Alias] = s.presence.Status(types.RoomID(sess.Code, p.Alias))
	}
	writeJSON(w, http.StatusOK, statuses)
}

type publishRequest struct {
	Room  string          `json:"room"`
	Event types.LiveEvent `json:"event"`
}

// handlePublishEvent publishes an event to a room on both transports.
// Publishing is fire-and-forget; an empty room is simply a no-op delivery.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, _, ok := types.SplitRoomID(req.Room); !ok {
		writeError(w, http.StatusBadRequest, "invalid room")
		return
	}
	if err := req.Event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.presence.Observe(req.Room, req.Event)
	s.stream.Publish(req.Room, req.Event)
	s.channel.Publish(req.Room, req.Event)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEventStream serves one room's events over SSE. Keep-alive comments
// hold idle proxies open; the client closing the request tears down the
// subscription.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if _, _, ok := types.SplitRoomID(room); !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing room parameter")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan types.LiveEvent, 32)
	unsubscribe := s.stream.Subscribe(room, func(event types.LiveEvent) {
		select {
		case events <- event:
		default:
		}
	})
	defer unsubscribe()

	s.log.Info("sse stream attached", zap.String("room", room))
	defer s.log.Info("sse stream detached", zap.String("room", room))

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		s.log.Warn("health check failed", zap.Error(err))
	}

	writeJSON(w, code, map[string]any{
		"status":        status,
		"stream_rooms":  s.stream.Stats(),
		"channel_rooms": s.channel.Stats(),
	})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses. The
// two 410 conditions carry distinct messages so clients can tell an expired
// session from an evicted participant.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, interfaces.ErrSessionExpired):
		writeError(w, http.StatusGone, "session expired")
	case errors.Is(err, interfaces.ErrParticipantRemoved):
		writeError(w, http.StatusGone, "participant removed")
	case errors.Is(err, interfaces.ErrAliasTaken):
		writeError(w, http.StatusConflict, "alias in use")
	case errors.Is(err, interfaces.ErrUnreachable):
		s.log.Error("service unreachable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "service unavailable")
	case errors.Is(err, types.ErrEmptyCode),
		errors.Is(err, types.ErrInvalidCode),
		errors.Is(err, types.ErrEmptyAlias),
		errors.Is(err, types.ErrAliasTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
