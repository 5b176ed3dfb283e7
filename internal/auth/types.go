package auth

import "time"

// UserCredentials is the stored username/password pair plus the
// bookkeeping used to throttle brute force attempts. The password hash
// is bcrypt.
type UserCredentials struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`

	// Counter for consecutive failed login attempts, kept in memory only.
	FailedLoginAttempts int64 `json:"-"`
	LastAttemptTime     int64 `json:"-"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// Store is the persistence boundary the auth service needs.
type Store interface {
	UpsertCredentials(creds UserCredentials) error
	DeleteCredentials(username string) error
	ListCredentials() ([]UserCredentials, error)
}
