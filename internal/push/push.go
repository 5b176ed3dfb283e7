package push

import (
	"encoding/json"
	"log/slog"

	"perepiska/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Enabled reports whether VAPID keys are configured. Without them the
// notifier is a no-op.
func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Notifier nudges offline recipients over web push. Everything here is
// best-effort: a failed or missing subscription never affects the send
// path that triggered it.
type Notifier struct {
	cfg   Config
	store Store
	send  func(message []byte, s *webpush.Subscription, options *webpush.Options) error
}

func NewNotifier(cfg Config, store Store) *Notifier {
	n := &Notifier{cfg: cfg, store: store}
	n.send = func(message []byte, s *webpush.Subscription, options *webpush.Options) error {
		resp, err := webpush.SendNotification(message, s, options)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
	return n
}

// notification is the payload shown by the recipient's browser. The
// message body itself is not pushed.
type notification struct {
	From string             `json:"from"`
	Type models.MessageType `json:"type"`
}

// Notify pushes a "new message" nudge to every subscription the
// recipient registered. Called by the router when the recipient has no
// live connections.
func (n *Notifier) Notify(identity string, msg models.Message) {
	if !n.cfg.Enabled() {
		return
	}

	subs, err := n.store.ListPushSubscriptions(identity)
	if err != nil {
		slog.Warn("failed to list push subscriptions", "identity", identity, "error", err)
		return
	}

	payload, err := json.Marshal(notification{From: msg.From, Type: msg.Type})
	if err != nil {
		slog.Warn("failed to marshal push payload", "error", err)
		return
	}

	for _, sub := range subs {
		err := n.send(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      n.cfg.Subscriber,
			VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
			TTL:             60,
		})
		if err != nil {
			slog.Warn("push notification failed", "identity", identity, "endpoint", sub.Endpoint, "error", err)
		}
	}
}
