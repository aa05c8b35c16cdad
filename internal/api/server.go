package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// SessionAdmin is the administrative surface of the conversation session manager.
type SessionAdmin interface {
	History(conversationID int64) []models.ChatMessage
	Reset(conversationID int64)
	SetPrompt(conversationID int64, promptKey string) bool
}

// TextsReloader re-reads the texts file.
type TextsReloader interface {
	Reload() error
	Keys() []string
}

// Server serves the admin HTTP API.
type Server struct {
	sessions  SessionAdmin
	profiles  store.ProfileRepo
	texts     TextsReloader
	token     string
	transport string
	started   time.Time
}

// NewServer creates the admin API server. An empty token disables authentication.
func NewServer(sessions SessionAdmin, profiles store.ProfileRepo, texts TextsReloader, token, transport string) *Server {
	return &Server{
		sessions:  sessions,
		profiles:  profiles,
		texts:     texts,
		token:     token,
		transport: transport,
		started:   time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Delete("/", s.resetSessionHandler)
			r.Put("/prompt", s.setPromptHandler)
		})
		r.Get("/profiles/{id}", s.getProfileHandler)
		r.Post("/config/reload", s.reloadConfigHandler)
	})
	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request handled",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"duration", time.Since(start), "request_id", chiMiddleware.GetReqID(r.Context()))
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			slog.Warn("Server.requireToken: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatechat"`)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// conversationID parses the {id} path parameter, writing a 400 on failure.
func conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid conversation id"))
		return 0, false
	}
	return id, true
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"transport":      s.transport,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}))
}

// SessionView is the JSON shape of a conversation session.
type SessionView struct {
	ConversationID int64                `json:"conversation_id"`
	Messages       []models.ChatMessage `json:"messages"`
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	msgs := s.sessions.History(id)
	if len(msgs) == 0 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No session for conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(SessionView{ConversationID: id, Messages: msgs}))
}

func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	s.sessions.Reset(id)
	slog.Info("Server.resetSessionHandler: session reset", "conversation_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", nil))
}

// SetPromptRequest is the body of PUT /sessions/{id}/prompt.
type SetPromptRequest struct {
	PromptKey string `json:"prompt_key"`
}

func (s *Server) setPromptHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var req SetPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setPromptHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.PromptKey) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: prompt_key"))
		return
	}
	if !s.sessions.SetPrompt(id, req.PromptKey) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown prompt key"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Prompt set", SessionView{ConversationID: id, Messages: s.sessions.History(id)}))
}

// ProfileView is a stored profile plus its derived registration state.
type ProfileView struct {
	Profile *models.UserProfile      `json:"profile"`
	State   models.RegistrationState `json:"state"`
}

func (s *Server) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	p, err := s.profiles.GetProfile(r.Context(), id)
	if err != nil {
		slog.Error("Server.getProfileHandler: store error", "conversation_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read profile"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Profile not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ProfileView{Profile: p, State: models.RegistrationStateOf(p)}))
}

func (s *Server) reloadConfigHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.texts.Reload(); err != nil {
		slog.Error("Server.reloadConfigHandler: reload failed, keeping previous texts", "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error("Texts reload failed: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Texts reloaded", map[string]interface{}{"keys": s.texts.Keys()}))
}
