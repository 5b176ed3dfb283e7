package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"perepiska/internal/auth"
	"perepiska/internal/models"
)

type adminAuthService interface {
	AddUser(username, password string) (auth.UserCredentials, error)
	DeleteUser(username string) error
}

type AdminHandler struct {
	auth adminAuthService
}

func NewAdminHandler(auth adminAuthService) *AdminHandler {
	return &AdminHandler{auth: auth}
}

type AddUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	// Password is echoed back only when it was generated server-side.
	Password string `json:"password,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	generated := ""
	if req.Password == "" {
		b := make([]byte, 12)
		if _, err := rand.Read(b); err != nil {
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		generated = base64.RawURLEncoding.EncodeToString(b)
		req.Password = generated
	}

	if _, err := h.auth.AddUser(req.Username, req.Password); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(AddUserResponse{
		Success:  true,
		Username: req.Username,
		Password: generated,
	})
}

func (h *AdminHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	if err := h.auth.DeleteUser(username); err != nil {
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, models.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(models.APIResponse{
				Success: false,
				Message: "User not found",
			})
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(models.APIResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to delete user: %v", err),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("User %s deleted", username),
	})
}
