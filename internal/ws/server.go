package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/claude-watch/backend/internal/agent"
	"github.com/claude-watch/backend/internal/chat"
	"github.com/claude-watch/backend/internal/config"
	"github.com/claude-watch/backend/internal/transcript"
	"github.com/claude-watch/backend/internal/watcher"
)

// AgentControl is the slice of the coordinator the HTTP surface needs.
type AgentControl interface {
	Submit(ctx context.Context, prompt string, per watcher.Callbacks) (string, error)
	Cancel() error
	Restart(ctx context.Context) error
	Status() agent.Status
}

type Server struct {
	cfg            config.ServerConfig
	contextWindow  int
	store          *chat.Store
	broadcaster    *Broadcaster
	control        AgentControl
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cfg config.ServerConfig, contextWindow int, store *chat.Store, broadcaster *Broadcaster, control AgentControl) *Server {
	s := &Server{
		cfg:            cfg,
		contextWindow:  contextWindow,
		store:          store,
		broadcaster:    broadcaster,
		control:        control,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/message", s.handleMessage)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/api/restart", s.handleRestart)
	mux.HandleFunc("/api/usage", s.handleUsage)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket client connected: %s", r.RemoteAddr)
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
}

// handleMessage submits a prompt and blocks until the turn completes. The
// user message is recorded here; the assistant reply is recorded by the
// global turn-complete callback so unsolicited turns land in history too.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	log.Printf("[server] message %s: %d bytes", requestID, len(text))

	msg := s.store.Append(chat.RoleUser, text)
	s.broadcaster.UserMessage(msg)
	s.store.SetStatusAndNotify(chat.StatusProcessing, s.broadcaster.Status)

	per := watcher.Callbacks{
		OnText: func(string) {
			s.store.SetStatusAndNotify(chat.StatusResponding, s.broadcaster.Status)
		},
	}

	response, err := s.control.Submit(r.Context(), text, per)
	if err != nil {
		s.store.SetStatusAndNotify(chat.StatusIdle, s.broadcaster.Status)
		if errors.Is(err, agent.ErrAgentNotRunning) || errors.Is(err, agent.ErrNoSession) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away mid-turn; nothing left to answer.
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messageResponse{RequestID: requestID, Response: response})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.control.Cancel(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.control.Restart(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	st := s.control.Status()
	if st.SessionID == "" {
		http.Error(w, "no session", http.StatusNotFound)
		return
	}
	usage, ok := transcript.ReadContextUsage(st.WorkDir, st.SessionID)
	if !ok {
		http.Error(w, "no usage data", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(usagePayload(usage, s.contextWindow))
}

type statePayload struct {
	Status   chat.AgentStatus `json:"status"`
	Agent    agent.Status     `json:"agent"`
	Messages []chat.Message   `json:"messages"`
	Clients  int              `json:"clients"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statePayload{
		Status:   s.store.Status(),
		Agent:    s.control.Status(),
		Messages: s.store.History(),
		Clients:  s.broadcaster.ClientCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.cfg.AuthToken {
		return true
	}

	if r.Header.Get("X-Claude-Watch-Token") == s.cfg.AuthToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.cfg.AuthToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}
