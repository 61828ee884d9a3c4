package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"kakeibo/internal/snapshot"
)

// Store keeps the ledger image in a single local file. The revision is the
// SHA-256 of the content.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	return snapshot.Snapshot{Data: data, Revision: revision(data)}, nil
}

// Save writes to a temporary file in the same directory and renames it over
// the previous image, so readers never see a partial write.
func (s *Store) Save(ctx context.Context, data []byte, baseRevision string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	if current, err := os.ReadFile(s.path); err == nil {
		if rev := revision(current); rev != baseRevision {
			slog.WarnContext(ctx, "Snapshot revision mismatch, overwriting",
				"path", s.path,
				"base_revision", baseRevision,
				"current_revision", rev)
		}
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return "", fmt.Errorf("replace snapshot: %w", err)
	}
	return revision(data), nil
}

func revision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
