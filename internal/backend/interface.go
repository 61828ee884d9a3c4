package backend

import (
	"context"

	"google.golang.org/api/option"

	"kakeibo/internal/amqp"
	"kakeibo/internal/snapshot"
	gdrive "kakeibo/internal/snapshot/google"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the snapshot store, the optional event client and
// a cleanup function.
type BackendResult struct {
	Store snapshot.Store
	// Events is nil when AMQP is not configured or unreachable.
	Events  *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// File specific
	FilePath string

	// Google Drive specific
	Credentials gdrive.Credentials
	DriveFolder string
	DriveFile   string
	// DriveOptions replace the options derived from Credentials.
	DriveOptions []option.ClientOption

	// Snapshot events, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	InstanceID   string
}

// BackendType represents the type of snapshot storage
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	FileBackend   BackendType = "file"
	DriveBackend  BackendType = "drive"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FileBackend, DriveBackend:
		return true
	default:
		return false
	}
}
