package snapshot

import (
	"bytes"
	"context"
	"errors"
)

// MimeType is the content type used when storing ledger images remotely.
const MimeType = "application/x-sqlite3"

var (
	// ErrNotFound means no image has been stored yet. Callers start empty.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt means the bytes are not an SQLite database image.
	ErrCorrupt = errors.New("snapshot is not an sqlite image")
)

var header = []byte("SQLite format 3\x00")

// Snapshot is a full ledger image plus the revision it was read at.
type Snapshot struct {
	Data     []byte
	Revision string
}

// Ports for outbound adapters.
type (
	Fetcher interface {
		// Fetch returns the latest stored image, or ErrNotFound.
		Fetch(ctx context.Context) (Snapshot, error)
	}

	Saver interface {
		// Save replaces the stored image. baseRevision is the revision the
		// caller last read; adapters report a mismatch but still write.
		Save(ctx context.Context, data []byte, baseRevision string) (revision string, err error)
	}

	Store interface {
		Fetcher
		Saver
	}
)

// ValidateImage checks the 16-byte SQLite file header.
func ValidateImage(data []byte) error {
	if len(data) < len(header) || !bytes.Equal(data[:len(header)], header) {
		return ErrCorrupt
	}
	return nil
}
