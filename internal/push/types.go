package push

// Subscription is one browser push endpoint registered by a user. A user
// may hold several (one per browser).
type Subscription struct {
	Username string `json:"username"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Store is the persistence boundary the notifier needs.
type Store interface {
	UpsertPushSubscription(sub Subscription) error
	ListPushSubscriptions(username string) ([]Subscription, error)
	DeletePushSubscription(username, endpoint string) error
}
