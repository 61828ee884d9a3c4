package memory

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"kakeibo/internal/snapshot"
)

// Store keeps the ledger image in process memory. It is meant for tests
// and local development; nothing survives a restart.
type Store struct {
	mu    sync.Mutex
	data  []byte
	rev   int
	saves int
}

// New returns a store holding image, or an empty store when image is nil.
func New(image []byte) *Store {
	s := &Store{}
	if image != nil {
		s.data = append([]byte(nil), image...)
		s.rev = 1
	}
	return s
}

func (s *Store) Fetch(_ context.Context) (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return snapshot.Snapshot{
		Data:     append([]byte(nil), s.data...),
		Revision: s.revision(),
	}, nil
}

func (s *Store) Save(ctx context.Context, data []byte, baseRevision string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil && baseRevision != s.revision() {
		slog.WarnContext(ctx, "Snapshot revision mismatch, overwriting",
			"base_revision", baseRevision,
			"current_revision", s.revision())
	}
	s.data = append([]byte(nil), data...)
	s.rev++
	s.saves++
	return s.revision(), nil
}

// Saves reports how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *Store) revision() string {
	return "mem:" + strconv.Itoa(s.rev)
}
