package http

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"sync"

	"perepiska/internal/api"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// requireBasicAuth guards the admin surface with constant-time basic
// auth. The admin server is expected to listen on localhost only.
func requireBasicAuth(user, password string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(gotPass), []byte(password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func NewAdminServer(adminHandler *api.AdminHandler, user, password, addr string) *AdminServer {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", requireBasicAuth(user, password, adminHandler.AddUserHandler))
	mux.HandleFunc("DELETE /admin/users", requireBasicAuth(user, password, adminHandler.DeleteUserHandler))

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
