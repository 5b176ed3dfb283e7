package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"perepiska/internal/content"
	"perepiska/internal/models"
	"perepiska/internal/presence"
)

// Store is the slice of the persistence boundary the router uses: one
// record per send, no multi-record transactions.
type Store interface {
	InsertMessage(m models.Message) error
}

// Presence resolves a recipient identity to its live handles.
type Presence interface {
	Lookup(identity string) []presence.Handle
}

// Notifier is told about messages whose recipient had no live
// connections. Implementations must be fire-and-forget.
type Notifier interface {
	Notify(identity string, msg models.Message)
}

// PersistenceError marks a store failure on the send path. It is the one
// error class that fails the whole send: the message was not recorded,
// so nothing was delivered either.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist message: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type Config struct {
	// RequireFileName rejects file messages without a file name.
	// When off, such a message is stored as an unnamed attachment.
	RequireFileName bool
}

// Router owns the send-path decision: validate, persist, then fan out.
// Durability precedes delivery, so a message is never silently dropped
// because its recipient is offline.
type Router struct {
	cfg      Config
	store    Store
	presence Presence
	notifier Notifier

	now func() time.Time
	log *slog.Logger
}

func New(cfg Config, store Store, presence Presence, notifier Notifier) *Router {
	return &Router{
		cfg:      cfg,
		store:    store,
		presence: presence,
		notifier: notifier,
		now:      time.Now,
		log:      slog.Default().With("component", "router"),
	}
}

// Send validates and persists one message, then delivers it best-effort
// to every live connection of the recipient. It returns once persistence
// completes; delivery outcome is not part of the contract. The send is
// not cancelled mid-flight when ctx expires: an accepted message is
// persisted regardless of the state of the sender's socket.
func (r *Router) Send(ctx context.Context, from string, ev models.ClientEvent) (models.Message, error) {
	if from == "" {
		return models.Message{}, models.ErrUnidentifiedSender
	}
	if ev.To == "" {
		return models.Message{}, models.ErrRecipientMissing
	}
	if !ev.MessageType.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", models.ErrInvalidMessageType, ev.MessageType)
	}

	body := ev.Content
	fileName := ""
	switch ev.MessageType {
	case models.MessageTypeText:
		body = content.Sanitize(body)
	case models.MessageTypeFile:
		fileName = ev.FileName
		if fileName == "" && r.cfg.RequireFileName {
			return models.Message{}, models.ErrFileNameRequired
		}
	}

	msg := models.Message{
		From:      from,
		To:        ev.To,
		Type:      ev.MessageType,
		Content:   body,
		FileName:  fileName,
		CreatedAt: r.now().UnixMilli(),
	}

	if err := r.store.InsertMessage(msg); err != nil {
		return models.Message{}, &PersistenceError{Err: err}
	}

	handles := r.presence.Lookup(msg.To)
	if len(handles) == 0 {
		if r.notifier != nil {
			go r.notifier.Notify(msg.To, msg)
		}
		return msg, nil
	}

	delivery := models.DeliveryEvent(msg)
	for _, h := range handles {
		// Best-effort per handle: a connection that closed microseconds
		// ago must not stop delivery to the recipient's other sessions,
		// and never rolls back the persisted record.
		if err := h.Deliver(delivery); err != nil {
			r.log.Warn("delivery failed",
				"to", msg.To,
				"connection_id", h.ID(),
				"error", err,
			)
		}
	}

	return msg, nil
}
