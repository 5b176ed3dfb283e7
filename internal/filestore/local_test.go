package filestore

import (
	"bytes"
	"io"
	"testing"

	"perepiska/internal/models"

	"github.com/stretchr/testify/require"
)

func TestLocalFileStore(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	payload := []byte("attachment bytes")
	key, err := store.Save(bytes.NewReader(payload))
	require.NoError(t, err)
	require.NotEmpty(t, key)

	// Content addressing: same bytes, same key.
	key2, err := store.Save(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, key, key2)

	// Different bytes, different key.
	key3, err := store.Save(bytes.NewReader([]byte("other bytes")))
	require.NoError(t, err)
	require.NotEqual(t, key, key3)

	rc, err := store.Get(key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	_, err = store.Get("deadbeef")
	require.ErrorIs(t, err, models.ErrNotFound)
}
