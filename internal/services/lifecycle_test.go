package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kakeibo/internal/core"
	"kakeibo/internal/snapshot"
	"kakeibo/internal/snapshot/memory"
	"kakeibo/internal/storage"
)

// flakyStore wraps the memory store and fails on demand.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	fetchErr error
	saveErr  error
	fetches  int
}

func (s *flakyStore) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	s.mu.Lock()
	s.fetches++
	err := s.fetchErr
	s.mu.Unlock()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return s.Store.Fetch(ctx)
}

func (s *flakyStore) Save(ctx context.Context, data []byte, base string) (string, error) {
	s.mu.Lock()
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.Store.Save(ctx, data, base)
}

func (s *flakyStore) setSaveErr(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	revs []string
	ops  []string
}

func (n *recordingNotifier) PublishSnapshotSaved(_ context.Context, revision, op string, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revs = append(n.revs, revision)
	n.ops = append(n.ops, op)
	return nil
}

func newManager(t *testing.T, store snapshot.Store, n Notifier) *Manager {
	t.Helper()
	m := NewManager(store, ManagerOptions{WorkDir: t.TempDir(), Notifier: n})
	t.Cleanup(func() { m.Close() })
	return m
}

func addAccount(ctx context.Context, id string) func(l *storage.Ledger) error {
	return func(l *storage.Ledger) error {
		return l.CreateAccount(ctx, core.Account{ID: id, UserID: "u1", Name: id, Type: core.AccountBank})
	}
}

func TestManagerLazyInitFromEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New(nil)}
	m := newManager(t, store, nil)

	if m.State() != StateUninitialized {
		t.Fatalf("state = %s", m.State())
	}
	var n int
	err := m.View(ctx, func(l *storage.Ledger) error {
		accs, err := l.ListAccounts(ctx, "u1")
		n = len(accs)
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if m.State() != StateReady || n != 2 {
		t.Fatalf("state = %s, seeded accounts = %d", m.State(), n)
	}

	// Ready managers do not fetch again.
	if err := m.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.fetches != 1 {
		t.Fatalf("fetches = %d", store.fetches)
	}
}

func TestManagerFetchFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("network down")
	store := &flakyStore{Store: memory.New(nil), fetchErr: boom}
	m := newManager(t, store, nil)

	err := m.Open(ctx)
	if !errors.Is(err, core.ErrRemote) || !errors.Is(err, boom) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if m.State() != StateUninitialized {
		t.Fatalf("state = %s, must not start empty", m.State())
	}

	store.mu.Lock()
	store.fetchErr = nil
	store.mu.Unlock()
	if err := m.Open(ctx); err != nil {
		t.Fatalf("retry open: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("state = %s", m.State())
	}
}

func TestManagerCorruptRemoteImage(t *testing.T) {
	m := newManager(t, memory.New([]byte("garbage")), nil)
	if err := m.Open(context.Background()); !errors.Is(err, snapshot.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if m.State() != StateUninitialized {
		t.Fatalf("state = %s", m.State())
	}
}

func TestManagerUpdatePersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	notifier := &recordingNotifier{}
	m := newManager(t, store, notifier)

	gen := m.Generation()
	if err := m.Update(ctx, "create account", addAccount(ctx, "wallet")); err != nil {
		t.Fatalf("update: %v", err)
	}
	if store.Saves() != 1 {
		t.Fatalf("saves = %d", store.Saves())
	}
	if m.Generation() <= gen {
		t.Fatalf("generation did not advance")
	}
	snap, err := store.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if m.Revision() != snap.Revision {
		t.Fatalf("revision %s, store has %s", m.Revision(), snap.Revision)
	}
	if len(notifier.revs) != 1 || notifier.revs[0] != snap.Revision || notifier.ops[0] != "create account" {
		t.Fatalf("notifier saw %v %v", notifier.revs, notifier.ops)
	}

	// A second manager on the same store sees the persisted change.
	other := newManager(t, store, nil)
	err = other.View(ctx, func(l *storage.Ledger) error {
		a, err := l.GetAccount(ctx, "wallet")
		if err == nil && a == nil {
			return errors.New("wallet missing")
		}
		return err
	})
	if err != nil {
		t.Fatalf("reload on second manager: %v", err)
	}
}

func TestManagerFailedOperationDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	m := newManager(t, store, nil)

	err := m.Update(ctx, "noop", func(*storage.Ledger) error { return core.ErrNotFound })
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.Saves() != 0 {
		t.Fatalf("saves = %d", store.Saves())
	}
}

func TestManagerFailureAfterWriteMarksDirty(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	m := newManager(t, store, nil)
	if err := m.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	boom := errors.New("read back failed")
	gen := m.Generation()
	err := m.Update(ctx, "create account", func(l *storage.Ledger) error {
		if err := addAccount(ctx, "wallet")(l); err != nil {
			return err
		}
		return boom
	})
	var perr *core.PersistError
	if !errors.As(err, &perr) || !errors.Is(err, boom) {
		t.Fatalf("expected PersistError wrapping cause, got %v", err)
	}
	if !m.Dirty() || m.Generation() == gen || store.Saves() != 0 {
		t.Fatalf("dirty=%v generation moved=%v saves=%d", m.Dirty(), m.Generation() != gen, store.Saves())
	}
	if err := m.Flush(ctx); err != nil || store.Saves() != 1 {
		t.Fatalf("flush: %v saves=%d", err, store.Saves())
	}
}

func TestManagerReloadIfCleanRespectsLocalChanges(t *testing.T) {
	ctx := context.Background()
	donor := newManager(t, memory.New(nil), nil)
	if err := donor.Update(ctx, "create account", addAccount(ctx, "remote")); err != nil {
		t.Fatalf("donor update: %v", err)
	}
	image, _ := donor.Export(ctx)
	snap := snapshot.Snapshot{Data: image, Revision: "rev-remote"}

	m := newManager(t, memory.New(nil), nil)
	if err := m.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	stale := m.Generation()
	if err := m.Update(ctx, "create account", addAccount(ctx, "local")); err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok, err := m.ReloadIfClean(ctx, snap, stale); ok || err != nil {
		t.Fatalf("reload after a local write: ok=%v err=%v", ok, err)
	}

	if ok, err := m.ReloadIfClean(ctx, snap, m.Generation()); !ok || err != nil {
		t.Fatalf("clean reload: ok=%v err=%v", ok, err)
	}
	if m.Revision() != "rev-remote" {
		t.Fatalf("revision = %s", m.Revision())
	}
	if ok, _ := m.ReloadIfClean(ctx, snap, m.Generation()); ok {
		t.Fatalf("same revision reloaded twice")
	}
}

func TestManagerPersistFailureKeepsMutationAndFlushes(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("quota exceeded")
	store := &flakyStore{Store: memory.New(nil)}
	m := newManager(t, store, nil)
	if err := m.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	store.setSaveErr(boom)
	err := m.Update(ctx, "create account", addAccount(ctx, "wallet"))
	var perr *core.PersistError
	if !errors.As(err, &perr) || !errors.Is(err, core.ErrNotPersisted) || !errors.Is(err, boom) {
		t.Fatalf("expected PersistError wrapping cause, got %v", err)
	}
	if !m.Dirty() {
		t.Fatalf("manager should be dirty")
	}

	err = m.View(ctx, func(l *storage.Ledger) error {
		a, err := l.GetAccount(ctx, "wallet")
		if err == nil && a == nil {
			return errors.New("mutation rolled back")
		}
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	if err := m.Flush(ctx); !errors.Is(err, core.ErrNotPersisted) {
		t.Fatalf("flush while store down: %v", err)
	}
	store.setSaveErr(nil)
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if m.Dirty() {
		t.Fatalf("still dirty after flush")
	}
	if store.Saves() != 1 {
		t.Fatalf("saves = %d", store.Saves())
	}
	if err := m.Flush(ctx); err != nil || store.Saves() != 1 {
		t.Fatalf("clean flush must not save: %v saves=%d", err, store.Saves())
	}
}

func TestManagerCancelledSaveIsPartialSuccess(t *testing.T) {
	store := memory.New(nil)
	m := newManager(t, store, nil)
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := m.Update(ctx, "create account", func(l *storage.Ledger) error {
		if err := addAccount(context.Background(), "wallet")(l); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, core.ErrNotPersisted) {
		t.Fatalf("expected partial success, got %v", err)
	}
	if !m.Dirty() {
		t.Fatalf("manager should be dirty")
	}
}

func TestManagerReloadReplacesContents(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, memory.New(nil), nil)
	if err := m.Update(ctx, "create account", addAccount(ctx, "before")); err != nil {
		t.Fatalf("update: %v", err)
	}

	donor := newManager(t, memory.New(nil), nil)
	if err := donor.Update(ctx, "create account", addAccount(ctx, "after")); err != nil {
		t.Fatalf("donor update: %v", err)
	}
	image, err := donor.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	gen := m.Generation()
	if err := m.Reload(ctx, image, "rev-x"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Revision() != "rev-x" || m.Generation() == gen || m.State() != StateReady {
		t.Fatalf("revision %s generation %d state %s", m.Revision(), m.Generation(), m.State())
	}
	err = m.View(ctx, func(l *storage.Ledger) error {
		before, _ := l.GetAccount(ctx, "before")
		after, _ := l.GetAccount(ctx, "after")
		if before != nil || after == nil {
			return errors.New("contents not replaced")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	if err := m.Reload(ctx, []byte("nope"), "rev-y"); !errors.Is(err, snapshot.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if m.Revision() != "rev-x" || m.State() != StateReady {
		t.Fatalf("failed reload must keep the current ledger")
	}
}

func TestManagerImportPersists(t *testing.T) {
	ctx := context.Background()
	donor := newManager(t, memory.New(nil), nil)
	if err := donor.Update(ctx, "create account", addAccount(ctx, "imported")); err != nil {
		t.Fatalf("donor update: %v", err)
	}
	image, _ := donor.Export(ctx)

	store := memory.New(nil)
	m := newManager(t, store, nil)
	if err := m.Import(ctx, image); err != nil {
		t.Fatalf("import: %v", err)
	}
	if store.Saves() != 1 {
		t.Fatalf("saves = %d", store.Saves())
	}
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memory.New(nil), ManagerOptions{WorkDir: t.TempDir()})
	if err := m.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.State() != StateClosed {
		t.Fatalf("state = %s", m.State())
	}
	if err := m.View(ctx, func(*storage.Ledger) error { return nil }); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after close, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestManagerLockHonoursContext(t *testing.T) {
	m := newManager(t, memory.New(nil), nil)
	release := make(chan struct{})
	started := make(chan struct{})
	go m.View(context.Background(), func(*storage.Ledger) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
}
