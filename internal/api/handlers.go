package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"perepiska/internal/auth"
	"perepiska/internal/content"
	"perepiska/internal/filestore"
	"perepiska/internal/models"
	"perepiska/internal/push"

	"github.com/go-playground/validator/v10"
	"github.com/h2non/filetype"
	"github.com/samber/lo"
)

type authService interface {
	Login(req auth.LoginRequest) auth.LoginResponse
	Logoff(token string) error
	Authenticate(token string) (string, error)
	Usernames() ([]string, error)
}

type presenceIndex interface {
	Online() []string
}

type historyStore interface {
	ListConversation(userA, userB string) ([]models.Message, error)
}

type subscriptionStore interface {
	UpsertPushSubscription(sub push.Subscription) error
}

type API struct {
	auth           authService
	presence       presenceIndex
	history        historyStore
	subs           subscriptionStore
	files          filestore.FileStore
	validate       *validator.Validate
	maxUploadBytes int64
	log            *slog.Logger
}

func New(
	auth authService,
	presence presenceIndex,
	history historyStore,
	subs subscriptionStore,
	files filestore.FileStore,
	maxUploadBytes int64,
) *API {
	return &API{
		auth:           auth,
		presence:       presence,
		history:        history,
		subs:           subs,
		files:          files,
		validate:       validator.New(),
		maxUploadBytes: maxUploadBytes,
		log:            slog.Default().With("component", "api"),
	}
}

// RequireSameOrigin rejects state-changing requests whose Origin header
// names a different host.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// username resolves the request's session token, or "" when unauthenticated.
func (a *API) username(r *http.Request) string {
	name, err := a.auth.Authenticate(a.getToken(r))
	if err != nil {
		return ""
	}
	return name
}

func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.username(r) == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("failed to encode response", "error", err)
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and form bodies.
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	if err := a.validate.Struct(req); err != nil {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	loginResp := a.auth.Login(req)
	if !loginResp.Success {
		w.WriteHeader(http.StatusUnauthorized)
		a.writeJSON(w, loginResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	a.writeJSON(w, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, models.User{Username: a.username(r), Online: true})
}

// UsersHandler serves the user directory: every known username plus
// whether it currently holds a live connection. Clients consult it to
// pick a recipient; the router itself never does.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	names, err := a.auth.Usernames()
	if err != nil {
		a.log.Error("failed to list users", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	online := lo.SliceToMap(a.presence.Online(), func(name string) (string, bool) {
		return name, true
	})

	users := lo.Map(names, func(name string, _ int) models.User {
		return models.User{Username: name, Online: online[name]}
	})

	a.writeJSON(w, users)
}

// HistoryMessage is one history entry; HTML is set when the client asks
// for rendered text bodies.
type HistoryMessage struct {
	models.Message
	HTML string `json:"html,omitempty"`
}

// ConversationHandler returns the full message history between the
// caller and the peer named in the path, ordered by creation time
// ascending. With ?render=html text bodies are additionally rendered
// from markdown.
func (a *API) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	me := a.username(r)
	peer := r.PathValue("peer")
	if peer == "" {
		http.Error(w, "Peer is required", http.StatusBadRequest)
		return
	}

	messages, err := a.history.ListConversation(me, peer)
	if err != nil {
		a.log.Error("failed to list conversation", "peer", peer, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	renderHTML := r.URL.Query().Get("render") == "html"

	history := make([]HistoryMessage, 0, len(messages))
	for _, m := range messages {
		entry := HistoryMessage{Message: m}
		if renderHTML && m.Type == models.MessageTypeText {
			html, err := content.RenderMarkdown(m.Content)
			if err != nil {
				a.log.Warn("failed to render message", "error", err)
			} else {
				entry.HTML = html
			}
		}
		history = append(history, entry)
	}

	a.writeJSON(w, history)
}

type UploadResponse struct {
	FileID   string `json:"fileId"`
	MimeType string `json:"mimeType"`
}

// UploadHandler stores an attachment payload and returns the key the
// client should send as the content of its image or file message.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, a.maxUploadBytes+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > a.maxUploadBytes {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "Empty body", http.StatusBadRequest)
		return
	}

	kind, err := filetype.Match(body)
	if err != nil {
		http.Error(w, "Failed to detect file type", http.StatusBadRequest)
		return
	}
	mimeType := kind.MIME.Value
	if kind == filetype.Unknown {
		mimeType = "application/octet-stream"
	}

	key, err := a.files.Save(bytes.NewReader(body))
	if err != nil {
		a.log.Error("failed to store upload", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, UploadResponse{FileID: key, MimeType: mimeType})
}

// GetFileHandler serves a stored attachment back, sniffing its type for
// the Content-Type header.
func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rc, err := a.files.Get(id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		a.log.Error("failed to open file", "file_id", id, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	kind, _ := filetype.Match(data)
	mimeType := kind.MIME.Value
	if kind == filetype.Unknown {
		mimeType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", mimeType)
	if _, err := w.Write(data); err != nil {
		a.log.Warn("failed to write file response", "error", err)
	}
}

// pushSubscribeRequest mirrors the browser PushSubscription JSON shape.
type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

// PushSubscribeHandler registers a web push endpoint for the caller so
// messages arriving while they are offline can nudge their browser.
func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req pushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}

	sub := push.Subscription{
		Username: a.username(r),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := a.subs.UpsertPushSubscription(sub); err != nil {
		a.log.Error("failed to store push subscription", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, models.APIResponse{Success: true})
}
