package filestore

import (
	"io"
)

// FileStore keeps attachment payloads outside the message store. Image
// and file messages carry the returned key as their content.
type FileStore interface {
	// Save stores the content and returns its content-addressed key.
	// Saving the same bytes twice returns the same key.
	Save(r io.Reader) (string, error)

	// Get retrieves the content for the given key.
	Get(key string) (io.ReadCloser, error)
}
