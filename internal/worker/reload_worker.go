package worker

import (
	"context"
	"fmt"
	"log/slog"

	"kakeibo/internal/amqp"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
	"kakeibo/internal/snapshot"
)

// ReloadWorker keeps this instance's ledger in step with snapshots saved by
// other instances sharing the same remote storage.
type ReloadWorker struct {
	manager *services.Manager
	fetcher snapshot.Fetcher
	origin  string
}

func NewReloadWorker(manager *services.Manager, fetcher snapshot.Fetcher, origin string) *ReloadWorker {
	return &ReloadWorker{manager: manager, fetcher: fetcher, origin: origin}
}

// HandleSnapshotEvent reloads the ledger when ev names a revision this
// instance has not loaded. Unsaved local changes are never discarded.
func (w *ReloadWorker) HandleSnapshotEvent(ctx context.Context, ev *amqp.SnapshotEvent) error {
	switch {
	case ev.Origin == w.origin:
		return nil
	case w.manager.State() != services.StateReady:
		// The next request loads the latest image anyway.
		return nil
	case ev.Revision == w.manager.Revision():
		return nil
	case w.manager.Dirty():
		slog.WarnContext(ctx, "Skipping reload, local changes not yet persisted",
			"revision", ev.Revision,
			"origin", ev.Origin,
			"local_revision", w.manager.Revision())
		return nil
	}

	// Anything the manager does while the image downloads cancels the reload.
	generation := w.manager.Generation()
	snap, err := w.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot %s: %w", ev.Revision, err)
	}
	reloaded, err := w.manager.ReloadIfClean(ctx, snap, generation)
	if err != nil {
		return fmt.Errorf("reload snapshot %s: %w", snap.Revision, err)
	}
	if !reloaded {
		slog.DebugContext(ctx, "Reload skipped",
			"revision", snap.Revision,
			"local_revision", w.manager.Revision(),
			"dirty", w.manager.Dirty())
		return nil
	}

	slog.InfoContext(ctx, "Ledger reloaded from remote event",
		applog.FieldOperation, applog.OpReload,
		applog.FieldRevision, snap.Revision,
		"event_revision", ev.Revision,
		"origin", ev.Origin,
		"operation", ev.Operation)
	return nil
}
