package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"kakeibo/internal/core"
	"kakeibo/internal/snapshot"
	"kakeibo/internal/storage"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateReloading
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateReloading:
		return "reloading"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrClosed is returned by every operation after Close.
var ErrClosed = fmt.Errorf("ledger manager closed: %w", core.ErrNotInitialized)

// Notifier is told about every snapshot that reached remote storage.
type Notifier interface {
	PublishSnapshotSaved(ctx context.Context, revision, operation string, size int) error
}

type ManagerOptions struct {
	// WorkDir holds the working copies of loaded images. Empty means the
	// system temp directory.
	WorkDir  string
	Notifier Notifier
}

// Manager owns the ledger loaded from remote storage. It loads the image
// lazily, serializes every operation and writes the full image back after
// each mutation.
type Manager struct {
	store snapshot.Store
	opts  ManagerOptions
	sem   *semaphore.Weighted

	// Guarded by sem.
	ledger *storage.Ledger
	dir    string

	state      atomic.Int32
	generation atomic.Uint64
	dirty      atomic.Bool
	revision   atomic.Pointer[string]
}

func NewManager(store snapshot.Store, opts ManagerOptions) *Manager {
	m := &Manager{
		store: store,
		opts:  opts,
		sem:   semaphore.NewWeighted(1),
	}
	m.setRevision("")
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Generation changes whenever the ledger contents may have changed.
func (m *Manager) Generation() uint64 { return m.generation.Load() }

// Revision is the remote revision the in-memory ledger was last synced to.
func (m *Manager) Revision() string { return *m.revision.Load() }

// Dirty reports a mutation that has not reached remote storage yet.
func (m *Manager) Dirty() bool { return m.dirty.Load() }

func (m *Manager) setRevision(rev string) { m.revision.Store(&rev) }

func (m *Manager) lock(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if m.State() == StateClosed {
		m.sem.Release(1)
		return ErrClosed
	}
	return nil
}

func (m *Manager) unlock() { m.sem.Release(1) }

// Open loads the ledger if it is not loaded yet.
func (m *Manager) Open(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	return m.ensureReady(ctx)
}

// ensureReady fetches and loads the remote image. "No image yet" starts an
// empty ledger; any other fetch failure leaves the manager uninitialized.
func (m *Manager) ensureReady(ctx context.Context) error {
	if m.State() == StateReady {
		return nil
	}
	m.state.Store(int32(StateInitializing))

	snap, err := m.store.Fetch(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		slog.InfoContext(ctx, "No remote snapshot yet, starting empty ledger")
		snap = snapshot.Snapshot{}
	case err != nil:
		m.state.Store(int32(StateUninitialized))
		return &core.RemoteError{Op: "fetch snapshot", Err: err}
	}

	if err := m.load(ctx, snap.Data); err != nil {
		m.state.Store(int32(StateUninitialized))
		return err
	}
	m.setRevision(snap.Revision)
	m.dirty.Store(false)
	m.state.Store(int32(StateReady))

	slog.InfoContext(ctx, "Ledger ready",
		"revision", snap.Revision,
		"image_bytes", len(snap.Data))
	return nil
}

// load opens image in a fresh working directory and swaps it in. The
// previous ledger stays in place if loading fails.
func (m *Manager) load(ctx context.Context, image []byte) error {
	dir, err := os.MkdirTemp(m.opts.WorkDir, "ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger work dir: %w", err)
	}
	l, err := storage.Open(ctx, dir, image)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("load ledger image: %w", err)
	}
	m.release()
	m.ledger, m.dir = l, dir
	m.generation.Add(1)
	return nil
}

func (m *Manager) release() {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.Close(); err != nil {
		slog.Warn("Failed to close ledger", "dir", m.dir, "error", err)
	}
	if err := os.RemoveAll(m.dir); err != nil {
		slog.Warn("Failed to remove ledger work dir", "dir", m.dir, "error", err)
	}
	m.ledger, m.dir = nil, ""
}

// View runs fn against a ready ledger. fn must not mutate it.
func (m *Manager) View(ctx context.Context, fn func(l *storage.Ledger) error) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	return fn(m.ledger)
}

// Update runs fn against a ready ledger and, when fn succeeds, persists the
// full image. A failed save returns a *core.PersistError: the change stays
// applied in memory and the manager is dirty until a later save succeeds.
// The same happens when fn fails after it already committed a write.
func (m *Manager) Update(ctx context.Context, op string, fn func(l *storage.Ledger) error) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	before := m.ledger.Changes()
	if err := fn(m.ledger); err != nil {
		if m.ledger.Changes() == before {
			return err
		}
		m.generation.Add(1)
		m.dirty.Store(true)
		slog.ErrorContext(ctx, "Operation failed after changing the ledger, ledger is dirty",
			"operation", op,
			"error", err)
		return &core.PersistError{Op: op, Err: err}
	}
	m.generation.Add(1)
	return m.persist(ctx, op)
}

func (m *Manager) persist(ctx context.Context, op string) error {
	data, err := m.ledger.Export(ctx)
	if err != nil {
		m.dirty.Store(true)
		return &core.PersistError{Op: op, Err: err}
	}
	base := m.Revision()
	rev, err := m.store.Save(ctx, data, base)
	if err != nil {
		m.dirty.Store(true)
		slog.ErrorContext(ctx, "Snapshot save failed, ledger is dirty",
			"operation", op,
			"base_revision", base,
			"error", err)
		return &core.PersistError{Op: op, Err: &core.RemoteError{Op: "save snapshot", Err: err}}
	}
	m.setRevision(rev)
	m.dirty.Store(false)

	slog.InfoContext(ctx, "Snapshot saved",
		"operation", op,
		"revision", rev,
		"image_bytes", len(data))

	if m.opts.Notifier != nil {
		if err := m.opts.Notifier.PublishSnapshotSaved(ctx, rev, op, len(data)); err != nil {
			slog.WarnContext(ctx, "Failed to publish snapshot event", "revision", rev, "error", err)
		}
	}
	return nil
}

// Flush saves the in-memory image if an earlier save failed.
func (m *Manager) Flush(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	if m.State() != StateReady || !m.Dirty() {
		return nil
	}
	return m.persist(ctx, "flush")
}

// Reload replaces the ledger with image, read at revision. Unsaved changes
// are discarded. If image cannot be loaded the current ledger is kept.
func (m *Manager) Reload(ctx context.Context, image []byte, revision string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	return m.reload(ctx, image, revision)
}

func (m *Manager) reload(ctx context.Context, image []byte, revision string) error {
	prev := m.State()
	m.state.Store(int32(StateReloading))
	if err := snapshot.ValidateImage(image); err != nil {
		m.state.Store(int32(prev))
		return err
	}
	m.state.Store(int32(StateInitializing))
	if err := m.load(ctx, image); err != nil {
		m.state.Store(int32(prev))
		return err
	}
	m.setRevision(revision)
	m.dirty.Store(false)
	m.state.Store(int32(StateReady))
	slog.InfoContext(ctx, "Ledger reloaded", "revision", revision, "image_bytes", len(image))
	return nil
}

// ReloadIfClean replaces the ledger with snap unless something happened
// locally since generation was read: a write, a load, or an unsaved change.
// It reports whether the ledger was replaced.
func (m *Manager) ReloadIfClean(ctx context.Context, snap snapshot.Snapshot, generation uint64) (bool, error) {
	if err := m.lock(ctx); err != nil {
		return false, err
	}
	defer m.unlock()
	switch {
	case m.State() != StateReady,
		m.Dirty(),
		m.Generation() != generation,
		snap.Revision == m.Revision():
		return false, nil
	}
	if err := m.reload(ctx, snap.Data, snap.Revision); err != nil {
		return false, err
	}
	return true, nil
}

// Import loads image and immediately persists it as the new remote state.
func (m *Manager) Import(ctx context.Context, image []byte) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	// The remote revision is still needed as the save base.
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	base := m.Revision()
	if err := m.reload(ctx, image, base); err != nil {
		return err
	}
	return m.persist(ctx, "import")
}

// Export returns the current full image.
func (m *Manager) Export(ctx context.Context) ([]byte, error) {
	var data []byte
	err := m.View(ctx, func(l *storage.Ledger) error {
		var err error
		data, err = l.Export(ctx)
		return err
	})
	return data, err
}

// Close releases the ledger. A dirty ledger is not flushed; call Flush first.
func (m *Manager) Close() error {
	if err := m.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer m.sem.Release(1)
	if m.State() == StateClosed {
		return nil
	}
	if m.Dirty() {
		slog.Warn("Closing ledger with unsaved changes", "revision", m.Revision())
	}
	m.release()
	m.state.Store(int32(StateClosed))
	return nil
}
