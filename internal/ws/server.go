package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type tokenAuthenticator interface {
	Authenticate(token string) (string, error)
}

// Server upgrades authenticated HTTP requests to messaging sessions.
type Server struct {
	auth            tokenAuthenticator
	registry        sessionRegistry
	router          messageRouter
	announceTimeout time.Duration
	upgrader        *websocket.Upgrader
	log             *slog.Logger
}

func NewServer(auth tokenAuthenticator, registry sessionRegistry, router messageRouter, announceTimeout time.Duration) *Server {
	return &Server{
		auth:            auth,
		registry:        registry,
		router:          router,
		announceTimeout: announceTimeout,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
		log: slog.Default().With("component", "ws"),
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}

	username, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade to websocket", "error", err)
		return
	}

	session := NewSession(s.registry, s.router, conn, username, s.announceTimeout)
	s.log.Info("connection opened", "connection_id", session.ID(), "token_identity", username)

	if err := session.Handle(r.Context()); err != nil {
		s.log.Warn("session ended with error", "connection_id", session.ID(), "error", err)
	}
	s.log.Info("connection closed", "connection_id", session.ID())
}
