package treeserver

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"budgetsync/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SnapshotStore persists the whole tree as one document.
type SnapshotStore interface {
	Load(ctx context.Context) (json.RawMessage, int64, error)
	Save(ctx context.Context, root json.RawMessage, revision int64) error
}

// PostgresStore keeps the latest tree snapshot in a single row.
type PostgresStore struct {
	db *sqlx.DB
}

var _ SnapshotStore = (*PostgresStore)(nil)

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := migratePostgres(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func migratePostgres(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

type snapshotRow struct {
	Data     []byte `db:"data"`
	Revision int64  `db:"revision"`
}

// Load returns the stored tree, or an empty tree at revision 0.
func (p *PostgresStore) Load(ctx context.Context) (json.RawMessage, int64, error) {
	var row snapshotRow
	err := p.db.GetContext(ctx, &row, `SELECT data, revision FROM tree_snapshots WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage("{}"), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}
	return json.RawMessage(row.Data), row.Revision, nil
}

// Save stores root unless a newer revision is already persisted.
func (p *PostgresStore) Save(ctx context.Context, root json.RawMessage, revision int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tree_snapshots (id, data, revision, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, revision = EXCLUDED.revision, updated_at = NOW()
		WHERE tree_snapshots.revision < EXCLUDED.revision`,
		[]byte(root), revision)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// Persister writes hub commits to a SnapshotStore from one goroutine,
// skipping intermediate revisions when writes arrive faster than they can
// be stored.
type Persister struct {
	store   SnapshotStore
	timeout time.Duration

	mu      sync.Mutex
	pending *commit
	signal  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	saved   int64
}

type commit struct {
	root     json.RawMessage
	revision int64
}

func NewPersister(store SnapshotStore, timeout time.Duration) *Persister {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Persister{
		store:   store,
		timeout: timeout,
		signal:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Commit matches memory.CommitFunc.
func (p *Persister) Commit(root json.RawMessage, revision int64) {
	p.mu.Lock()
	if p.pending == nil || revision > p.pending.revision {
		p.pending = &commit{root: root, revision: revision}
	}
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Persister) run() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.signal:
			p.flush()
		case <-p.stopCh:
			p.flush()
			return
		}
	}
}

func (p *Persister) flush() {
	p.mu.Lock()
	c := p.pending
	p.pending = nil
	p.mu.Unlock()
	if c == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.store.Save(ctx, c.root, c.revision); err != nil {
		slog.Error("Tree snapshot not persisted",
			log.FieldComponent, log.ComponentTree,
			log.FieldRevision, c.revision,
			log.FieldError, err)
		return
	}

	p.mu.Lock()
	p.saved = c.revision
	p.mu.Unlock()
}

// Saved is the latest revision known to be stored.
func (p *Persister) Saved() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved
}

// Stop flushes the last pending commit and ends the writer.
func (p *Persister) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}
