package backend

import (
	"context"
	"time"

	"budgetsync/internal/archive"
	"budgetsync/internal/localstore"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/memory"
	"budgetsync/internal/services"
)

// Backend bundles the storage and transport pieces the application wires
// into the sync layer.
type Backend struct {
	Local *localstore.Store
	// Remote is nil when no remote tree is configured.
	Remote *remote.Client
	// Hub is set for the in-process remote backend.
	Hub     *memory.Hub
	Sinks   []services.MirrorSink
	Archive *archive.Archive
}

// RemoteStore returns Remote as a coordinator port, nil when absent.
func (b *Backend) RemoteStore() services.RemoteStore {
	if b.Remote == nil {
		return nil
	}
	return b.Remote
}

// DeviceStore returns Remote as a device port, nil when absent.
func (b *Backend) DeviceStore() services.DeviceStore {
	if b.Remote == nil {
		return nil
	}
	return b.Remote
}

// Backups returns Archive as a backup port, nil when none is configured.
func (b *Backend) Backups() services.BackupStore {
	if b.Archive == nil {
		return nil
	}
	return b.Archive
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Local cache
	LocalType    LocalType
	SQLiteDBPath string

	// Remote tree
	RemoteType    RemoteType
	TreeURL       string
	FamilyID      string
	RemoteTimeout time.Duration
	VersionCheck  bool

	// AMQP mirror, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror, optional
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Backups
	BackupBucket string
	BackupPrefix string
	BackupDir    string
}

// LocalType selects the durable local storage
type LocalType string

const (
	LocalSQLite LocalType = "sqlite"
	LocalMemory LocalType = "memory"
)

func (t LocalType) String() string {
	return string(t)
}

// IsValid returns true if the local type is valid
func (t LocalType) IsValid() bool {
	switch t {
	case LocalSQLite, LocalMemory:
		return true
	default:
		return false
	}
}

// RemoteType selects the shared tree transport
type RemoteType string

const (
	RemoteNone   RemoteType = "none"
	RemoteMemory RemoteType = "memory"
	RemoteHTTP   RemoteType = "http"
)

func (t RemoteType) String() string {
	return string(t)
}

// IsValid returns true if the remote type is valid
func (t RemoteType) IsValid() bool {
	switch t {
	case RemoteNone, RemoteMemory, RemoteHTTP:
		return true
	default:
		return false
	}
}
