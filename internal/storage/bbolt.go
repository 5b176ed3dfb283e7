package storage

import (
	"fmt"
	"sort"
	"time"

	"perepiska/internal/auth"
	"perepiska/internal/models"
	"perepiska/internal/push"

	"go.etcd.io/bbolt"
)

var (
	bucketCredentials       = []byte("credentials")
	bucketMessages          = []byte("messages")
	bucketPushSubscriptions = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCredentials); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPushSubscriptions); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// conversationKey is the order-independent bucket name for the message
// history between two users.
func conversationKey(a, b string) []byte {
	pair := []string{a, b}
	sort.Strings(pair)
	return []byte(pair[0] + "|" + pair[1])
}

// InsertMessage appends one message record to its conversation bucket.
// The key is CreatedAt plus a per-bucket sequence, so history reads come
// back in creation order and same-millisecond sends keep insertion order.
func (s *BboltStorage) InsertMessage(message models.Message) error {
	if message.From == "" || message.To == "" {
		return fmt.Errorf("message missing sender or recipient")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(conversationKey(message.From, message.To))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		dbMessage := DBMessage{
			Seq:       seq,
			From:      message.From,
			To:        message.To,
			Type:      string(message.Type),
			Content:   message.Content,
			FileName:  message.FileName,
			CreatedAt: message.CreatedAt,
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return convBucket.Put(dbMessage.Key(), data)
	})
}

// ListConversation returns every message exchanged between the two users,
// in either direction, ordered by creation time ascending.
func (s *BboltStorage) ListConversation(userA, userB string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket(conversationKey(userA, userB))
		if convBucket == nil {
			return nil // no messages yet
		}

		return convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				From:      dbMsg.From,
				To:        dbMsg.To,
				Type:      models.MessageType(dbMsg.Type),
				Content:   dbMsg.Content,
				FileName:  dbMsg.FileName,
				CreatedAt: dbMsg.CreatedAt,
			})
			return nil
		})
	})
	return messages, err
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		dbCreds := &DBCredentials{
			ID:           credentials.ID,
			Username:     credentials.Username,
			PasswordHash: credentials.PasswordHash,
			CreatedAt:    credentials.CreatedAt,
		}

		data, err := dbCreds.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbCreds.Key(), data)
	})
}

func (s *BboltStorage) DeleteCredentials(username string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(username))
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		return b.ForEach(func(k, v []byte) error {
			var dbCreds DBCredentials
			if err := dbCreds.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				ID:           dbCreds.ID,
				Username:     dbCreds.Username,
				PasswordHash: dbCreds.PasswordHash,
				CreatedAt:    dbCreds.CreatedAt,
			})
			return nil
		})
	})
	return credentials, err
}

// UpsertPushSubscription stores one browser push endpoint under its
// owner's bucket, keyed by endpoint so re-subscribing is idempotent.
func (s *BboltStorage) UpsertPushSubscription(sub push.Subscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketPushSubscriptions).CreateBucketIfNotExists([]byte(sub.Username))
		if err != nil {
			return fmt.Errorf("failed to create subscription bucket: %w", err)
		}

		dbSub := &DBPushSubscription{
			Username: sub.Username,
			Endpoint: sub.Endpoint,
			P256dh:   sub.P256dh,
			Auth:     sub.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(username string) ([]push.Subscription, error) {
	var subs []push.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(username))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, push.Subscription{
				Username: dbSub.Username,
				Endpoint: dbSub.Endpoint,
				P256dh:   dbSub.P256dh,
				Auth:     dbSub.Auth,
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(username, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(username))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}
