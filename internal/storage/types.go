package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBCredentials struct {
	ID           string `msgpack:"id"`
	Username     string `msgpack:"username"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
}

func (c *DBCredentials) Key() []byte {
	return []byte(c.Username)
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	From      string `msgpack:"from"`
	To        string `msgpack:"to"`
	Type      string `msgpack:"type"`
	Content   string `msgpack:"content"`
	FileName  string `msgpack:"fileName"`
	CreatedAt int64  `msgpack:"createdAt"`
}

// Key orders messages by creation time; the per-bucket sequence breaks
// ties within the same millisecond so insertion order survives.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(m.CreatedAt))
	binary.BigEndian.PutUint64(key[8:], m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBPushSubscription struct {
	Username string `msgpack:"username"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
