package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"perepiska/internal/models"
	"perepiska/internal/presence"
	"perepiska/internal/router"

	"github.com/google/uuid"
)

// deliveryQueueSize bounds the per-session outbound buffer. A session
// that cannot drain it loses deliveries, per the best-effort contract.
const deliveryQueueSize = 100

var (
	ErrDeliveryQueueFull = errors.New("delivery queue full")
	errAnnounceTimeout   = errors.New("connection never announced an identity")
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageRouter interface {
	Send(ctx context.Context, from string, ev models.ClientEvent) (models.Message, error)
}

type sessionRegistry interface {
	Register(identity string, h presence.Handle)
	Unregister(h presence.Handle)
}

// Session owns the lifecycle of one physical connection and its
// association to an identity. It starts anonymous; an announce event
// binds it to the identity the session token was issued for and makes
// it routable. Close unregisters it exactly once.
type Session struct {
	id       string
	ws       wsConnection
	registry sessionRegistry
	router   messageRouter

	// Identity the session token at upgrade time belongs to. The
	// announce is trust-on-first-use per connection, but it must match
	// the token owner.
	tokenIdentity string

	// How long the session may stay anonymous before being reclaimed.
	announceTimeout time.Duration

	mu       sync.RWMutex
	identity string

	fromClient chan models.ClientEvent
	deliver    chan models.ServerEvent
	errorCh    chan error
}

func NewSession(
	registry sessionRegistry,
	router messageRouter,
	ws wsConnection,
	tokenIdentity string,
	announceTimeout time.Duration,
) *Session {
	return &Session{
		id:              uuid.NewString(),
		ws:              ws,
		registry:        registry,
		router:          router,
		tokenIdentity:   tokenIdentity,
		announceTimeout: announceTimeout,
		fromClient:      make(chan models.ClientEvent),
		deliver:         make(chan models.ServerEvent, deliveryQueueSize),
		errorCh:         make(chan error, 2),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Identity returns the bound identity, or "" while anonymous.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Deliver queues a server event for the socket writer. It never blocks:
// when the queue is full the event is dropped and an error returned,
// which the router logs and otherwise ignores.
func (s *Session) Deliver(ev models.ServerEvent) error {
	select {
	case s.deliver <- ev:
		return nil
	default:
		return ErrDeliveryQueueFull
	}
}

// Handle runs the session until the socket closes, the context is
// cancelled, or the announce timeout fires on an anonymous session.
// The deliver channel is deliberately never closed so concurrent
// Deliver calls from the router stay safe.
func (s *Session) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(s.fromClient)
		close(s.errorCh)
		s.registry.Unregister(s)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		s.errorCh <- s.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		s.errorCh <- s.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-s.errorCh:
	case <-ctx.Done():
	}
	s.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (s *Session) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := s.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case s.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) mainLoop(ctx context.Context) error {
	reclaim := time.NewTimer(s.announceTimeout)
	defer reclaim.Stop()

	for {
		select {
		case ev := <-s.fromClient:
			if err := s.processClientEvent(ctx, ev, reclaim); err != nil {
				return err
			}
		case ev := <-s.deliver:
			if err := s.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-reclaim.C:
			if s.Identity() == "" {
				return errAnnounceTimeout
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) processClientEvent(ctx context.Context, ev models.ClientEvent, reclaim *time.Timer) error {
	switch ev.Type {
	case models.EventAnnounce:
		return s.handleAnnounce(ev, reclaim)
	case models.EventMessage:
		msg, err := s.router.Send(ctx, s.Identity(), ev)
		if err != nil {
			return s.reportError(err)
		}
		return s.ws.WriteJSON(models.ServerEvent{
			Type:      models.EventAck,
			CreatedAt: msg.CreatedAt,
		})
	}

	return nil
}

func (s *Session) handleAnnounce(ev models.ClientEvent, reclaim *time.Timer) error {
	if ev.Identity == "" {
		return s.ws.WriteJSON(models.ServerEvent{
			Type:    models.EventError,
			Code:    "invalid_identity",
			Message: "announce requires an identity",
		})
	}

	if ev.Identity != s.tokenIdentity {
		return s.ws.WriteJSON(models.ServerEvent{
			Type:    models.EventError,
			Code:    "identity_mismatch",
			Message: "announced identity does not match the session token",
		})
	}

	s.mu.Lock()
	already := s.identity != ""
	if !already {
		s.identity = ev.Identity
	}
	s.mu.Unlock()

	// Duplicate announce for the same identity is a no-op; the session
	// is already registered.
	if already {
		return nil
	}

	reclaim.Stop()
	s.registry.Register(ev.Identity, s)
	return nil
}

// reportError sends a validation or persistence failure back to the
// sending connection. None of them are fatal to the connection itself.
func (s *Session) reportError(err error) error {
	ev := models.ServerEvent{
		Type:    models.EventError,
		Code:    errorCode(err),
		Message: err.Error(),
	}
	return s.ws.WriteJSON(ev)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrUnidentifiedSender):
		return "unidentified_sender"
	case errors.Is(err, models.ErrInvalidMessageType):
		return "invalid_message_type"
	case errors.Is(err, models.ErrRecipientMissing):
		return "invalid_recipient"
	case errors.Is(err, models.ErrFileNameRequired):
		return "file_name_required"
	}

	var pErr *router.PersistenceError
	if errors.As(err, &pErr) {
		return "persistence_failure"
	}
	return "internal_error"
}
