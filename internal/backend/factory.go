package backend

import (
	"context"
	"fmt"
	"log/slog"

	"kakeibo/internal/amqp"
	"kakeibo/internal/snapshot"
	"kakeibo/internal/snapshot/file"
	gdrive "kakeibo/internal/snapshot/google"
	"kakeibo/internal/snapshot/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var store snapshot.Store
	var err error
	switch config.Type {
	case MemoryBackend:
		store = memory.New(nil)
		f.logger.Info("Initialized memory snapshot store")
	case FileBackend:
		store = file.New(config.FilePath)
		f.logger.Info("Initialized file snapshot store", "path", config.FilePath)
	case DriveBackend:
		store, err = f.createDriveStore(ctx, config)
	default:
		err = fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	result := &BackendResult{Store: store, Cleanup: func() error { return nil }}

	// AMQP is optional; the ledger works without cross-instance events.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, config.InstanceID)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without snapshot events", "error", err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"instance_id", config.InstanceID)
			result.Events = client
			result.Cleanup = client.Close
		}
	}
	return result, nil
}

func (f *DefaultFactory) createDriveStore(ctx context.Context, config Config) (snapshot.Store, error) {
	opts := config.DriveOptions
	if len(opts) == 0 {
		var err error
		if opts, err = gdrive.ClientOptions(ctx, config.Credentials); err != nil {
			return nil, fmt.Errorf("failed to build Google Drive credentials: %w", err)
		}
	}
	store, err := gdrive.New(ctx, config.DriveFolder, config.DriveFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Drive client: %w", err)
	}
	f.logger.Info("Initialized Google Drive snapshot store",
		"folder", config.DriveFolder,
		"file", config.DriveFile)
	return store, nil
}
