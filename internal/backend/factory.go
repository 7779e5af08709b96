package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"budgetsync/internal/adapters"
	"budgetsync/internal/amqp"
	"budgetsync/internal/archive"
	"budgetsync/internal/localstore"
	"budgetsync/internal/log"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/httptree"
	"budgetsync/internal/remote/memory"
	gsheet "budgetsync/internal/sheets/google"
	"budgetsync/internal/storage"
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
		logger: logger.With(log.FieldComponent, log.ComponentBackend),
	}
}

// cleanups runs registered closers in reverse order.
type cleanups []CleanupFunc

func (c cleanups) run() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var closers cleanups
	fail := func(err error) (*BackendResult, error) {
		if cerr := closers.run(); cerr != nil {
			f.logger.Warn("Cleanup after failed backend setup", log.FieldError, cerr)
		}
		return nil, err
	}

	b := &Backend{}

	local, closeLocal, err := f.createLocal(config)
	if err != nil {
		return fail(err)
	}
	b.Local = local
	if closeLocal != nil {
		closers = append(closers, closeLocal)
	}

	tree, hub, err := f.createTree(config)
	if err != nil {
		return fail(err)
	}
	if tree != nil {
		b.Hub = hub
		b.Remote = remote.NewClient(tree, remote.ClientConfig{
			FamilyID:     config.FamilyID,
			Timeout:      config.RemoteTimeout,
			VersionCheck: config.VersionCheck,
		})
		b.Sinks = append(b.Sinks, adapters.NewTreeSink(b.Remote))
		closers = append(closers, tree.Close)
	}

	if config.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without broker mirror", log.FieldError, err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			b.Sinks = append(b.Sinks, adapters.NewAMQPSink(amqpClient, config.FamilyID))
			closers = append(closers, amqpClient.Close)
		}
	}

	if config.GoogleSpreadsheetID != "" {
		sheet, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			SheetName:       config.GoogleSheetName,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		})
		if err != nil {
			f.logger.Warn("Failed to initialize Google Sheets client, continuing without sheet mirror", log.FieldError, err)
		} else {
			b.Sinks = append(b.Sinks, adapters.NewSheetsSink(sheet))
		}
	}

	arch, closeArchive, err := f.createArchive(ctx, config)
	if err != nil {
		return fail(err)
	}
	b.Archive = arch
	if closeArchive != nil {
		closers = append(closers, closeArchive)
	}

	sinkNames := make([]string, 0, len(b.Sinks))
	for _, s := range b.Sinks {
		sinkNames = append(sinkNames, s.Name())
	}
	f.logger.Info("Backend ready",
		"local", config.LocalType,
		"remote", config.RemoteType,
		"sinks", sinkNames)

	return &BackendResult{Backend: b, Cleanup: closers.run}, nil
}

func (f *DefaultFactory) createLocal(config Config) (*localstore.Store, CleanupFunc, error) {
	switch config.LocalType {
	case LocalSQLite:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite local store", "db_path", config.SQLiteDBPath)
		return localstore.New(repo), repo.Close, nil
	case LocalMemory:
		f.logger.Info("Initialized in-memory local store")
		return localstore.New(localstore.NewMemoryBackend(0)), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported local backend type: %s", config.LocalType)
	}
}

func (f *DefaultFactory) createTree(config Config) (remote.Tree, *memory.Hub, error) {
	switch config.RemoteType {
	case RemoteNone:
		f.logger.Info("No remote backend configured, running local only")
		return nil, nil, nil
	case RemoteMemory:
		hub := memory.NewHub()
		f.logger.Info("Initialized in-process remote tree")
		return hub.Connect(), hub, nil
	case RemoteHTTP:
		f.logger.Info("Initialized HTTP remote tree", "tree_url", config.TreeURL)
		return httptree.New(httptree.Config{
			BaseURL:    config.TreeURL,
			HTTPClient: &http.Client{Timeout: config.RemoteTimeout},
		}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported remote backend type: %s", config.RemoteType)
	}
}

func (f *DefaultFactory) createArchive(ctx context.Context, config Config) (*archive.Archive, CleanupFunc, error) {
	var dir *archive.DirStore
	if config.BackupDir != "" {
		d, err := archive.NewDirStore(config.BackupDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize backup dir: %w", err)
		}
		dir = d
	}

	var gcs *archive.GCSStore
	if config.BackupBucket != "" {
		g, err := archive.NewGCSStore(ctx, config.BackupBucket, config.BackupPrefix)
		if err != nil {
			f.logger.Warn("Failed to initialize GCS backups, falling back to local dir", log.FieldError, err)
		} else {
			gcs = g
		}
	}

	switch {
	case gcs != nil:
		f.logger.Info("Backups go to Cloud Storage", "bucket", config.BackupBucket, "prefix", config.BackupPrefix)
		return archive.New(gcs, gcs, dir), gcs.Close, nil
	case dir != nil:
		f.logger.Info("Backups go to local directory", "dir", config.BackupDir)
		return archive.New(dir, nil, dir), nil, nil
	default:
		return nil, nil, nil
	}
}
