package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/log"
	"budgetsync/internal/remote"
)

// BackupStore keeps exported documents outside the sync path.
type BackupStore interface {
	Put(ctx context.Context, name string, data []byte) (uri string, err error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// ErrNoBackupStore is returned by backup operations when none is configured.
var ErrNoBackupStore = errors.New("no backup store configured")

// WriteResult is what every ledger mutation hands back to the caller. When
// Stored is false the document is the attempted one; it was neither saved
// nor published to listeners.
type WriteResult struct {
	Document core.Document `json:"document"`
	Synced   bool          `json:"synced"`
	Degraded bool          `json:"degraded"`
	Stored   bool          `json:"-"`
}

func newWriteResult(doc core.Document, res SaveResult) WriteResult {
	return WriteResult{Document: doc, Synced: res.OK(), Degraded: res.Degraded(), Stored: res.Stored()}
}

// OperationInput carries the user supplied fields of a new operation.
type OperationInput struct {
	Type        core.OperationType `json:"type"`
	Amount      core.Money         `json:"amount"`
	Person      string             `json:"person"`
	Category    string             `json:"category"`
	Description string             `json:"description"`
	Date        core.Date          `json:"date"`
}

type GoalInput struct {
	Name        string     `json:"name"`
	Target      core.Money `json:"target"`
	Deadline    core.Date  `json:"deadline"`
	Description string     `json:"description"`
}

// Analytics bundles the aggregator outputs for one request.
type Analytics struct {
	Report core.Report         `json:"report"`
	Month  core.MonthOverview  `json:"month"`
	Limits []core.LimitUsage   `json:"limits"`
	Goals  []core.GoalProgress `json:"goals"`
}

// Ledger is the application facade over the sync layer: it stamps new
// entries, runs pure mutations through the coordinator and fans changes
// out to listeners.
type Ledger struct {
	coord    *Coordinator
	mirror   *OperationMirror
	backups  BackupStore
	ids      *core.IDGenerator
	identity core.DeviceIdentity
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[int]func(core.Document)
	nextID    int
	handle    remote.Handle
}

// NewLedger wires the facade. mirror and backups may be nil.
func NewLedger(coord *Coordinator, mirror *OperationMirror, backups BackupStore, identity core.DeviceIdentity) *Ledger {
	return &Ledger{
		coord:     coord,
		mirror:    mirror,
		backups:   backups,
		ids:       core.NewIDGenerator(),
		identity:  identity,
		now:       time.Now,
		logger:    slog.Default().With(log.FieldComponent, log.ComponentApp),
		listeners: make(map[int]func(core.Document)),
	}
}

// Open initializes the sync layer, loads the document and starts realtime
// updates. It reports whether the cloud is in use.
func (l *Ledger) Open(ctx context.Context) bool {
	cloud := l.coord.Init(ctx)
	doc := l.coord.Load(ctx)
	h := l.coord.SetupRealtimeSync(ctx, l.notify)

	l.mu.Lock()
	l.handle = h
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "Ledger opened",
		"cloud", cloud,
		log.FieldOperations, len(doc.Operations))
	return cloud
}

// Close stops realtime updates.
func (l *Ledger) Close() {
	l.mu.Lock()
	h := l.handle
	l.handle = remote.Handle{}
	l.mu.Unlock()
	l.coord.RemoveRealtimeSync(h)
}

func (l *Ledger) Coordinator() *Coordinator { return l.coord }

func (l *Ledger) Identity() core.DeviceIdentity { return l.identity }

// OnChange registers fn for every new document, local or remote, and
// returns a function that removes it.
func (l *Ledger) OnChange(fn func(core.Document)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners, id)
	}
}

func (l *Ledger) notify(doc core.Document) {
	l.mu.Lock()
	fns := make([]func(core.Document), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(doc.Clone())
	}
}

// Document returns the current snapshot.
func (l *Ledger) Document() core.Document {
	return l.coord.Current()
}

// Reload runs the load fallback chain again.
func (l *Ledger) Reload(ctx context.Context) core.Document {
	doc := l.coord.Load(ctx)
	l.notify(doc)
	return doc
}

func (l *Ledger) update(ctx context.Context, fn func(core.Document) (core.Document, error)) (WriteResult, error) {
	doc, res, err := l.coord.Update(ctx, fn)
	if err != nil {
		return WriteResult{}, err
	}
	if !res.Stored() {
		l.logger.ErrorContext(ctx, "Change not stored, listeners not notified", log.FieldOperation, log.OpSave)
		return newWriteResult(doc, res), nil
	}
	l.notify(doc)
	return newWriteResult(doc, res), nil
}

// Replace saves doc wholesale.
func (l *Ledger) Replace(ctx context.Context, doc core.Document) WriteResult {
	res, _ := l.update(ctx, func(core.Document) (core.Document, error) {
		return core.Normalize(doc.Clone()), nil
	})
	return res
}

// AddOperation stamps in with a fresh id and this device, saves it and
// mirrors it when the cloud is in use.
func (l *Ledger) AddOperation(ctx context.Context, in OperationInput) (WriteResult, core.Operation, error) {
	now := l.now().UTC()
	origin := l.identity
	op := core.Operation{
		ID:           l.ids.Next(),
		Type:         in.Type,
		Amount:       in.Amount,
		Person:       strings.TrimSpace(in.Person),
		Category:     strings.TrimSpace(in.Category),
		Description:  strings.TrimSpace(in.Description),
		Date:         in.Date,
		CreatedAt:    now,
		OriginDevice: &origin,
	}
	if op.Date.IsZero() {
		op.Date = core.DateOf(now)
	}

	res, err := l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.AddOperation(d, op)
	})
	if err != nil {
		return WriteResult{}, core.Operation{}, err
	}

	if res.Stored && l.coord.CloudAvailable() && l.mirror != nil {
		l.mirror.Record(op, res.Document.Currency(), l.identity.Name)
	}
	l.logger.InfoContext(ctx, "Operation added",
		log.FieldOperationID, op.ID,
		"type", op.Type,
		log.FieldSuccess, res.Synced)
	return res, op, nil
}

func (l *Ledger) DeleteOperation(ctx context.Context, id int64) (WriteResult, error) {
	return l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.DeleteOperation(d, id)
	})
}

// AddCategory returns the derived category id alongside the result.
func (l *Ledger) AddCategory(ctx context.Context, t core.OperationType, name string) (WriteResult, string, error) {
	var id string
	res, err := l.update(ctx, func(d core.Document) (core.Document, error) {
		out, cid, err := core.AddCategory(d, t, name)
		id = cid
		return out, err
	})
	return res, id, err
}

func (l *Ledger) RemoveCategory(ctx context.Context, t core.OperationType, id string) (WriteResult, error) {
	return l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.RemoveCategory(d, t, id)
	})
}

func (l *Ledger) AddGoal(ctx context.Context, in GoalInput) (WriteResult, core.Goal, error) {
	g := core.Goal{
		ID:          l.ids.Next(),
		Name:        strings.TrimSpace(in.Name),
		Target:      in.Target,
		Deadline:    in.Deadline,
		Description: strings.TrimSpace(in.Description),
		Created:     l.now().UTC(),
	}
	res, err := l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.AddGoal(d, g)
	})
	if err != nil {
		return WriteResult{}, core.Goal{}, err
	}
	stored, _ := res.Document.Goal(g.ID)
	return res, stored, nil
}

func (l *Ledger) RemoveGoal(ctx context.Context, id int64) (WriteResult, error) {
	return l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.RemoveGoal(d, id)
	})
}

// ContributeToGoal adds amount to the goal's progress.
func (l *Ledger) ContributeToGoal(ctx context.Context, id int64, amount core.Money) (WriteResult, error) {
	return l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.AddToGoal(d, id, amount)
	})
}

func (l *Ledger) SetLimit(ctx context.Context, category string, amount core.Money) (WriteResult, error) {
	return l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.SetLimit(d, category, amount)
	})
}

func (l *Ledger) RemoveLimit(ctx context.Context, category string) (WriteResult, error) {
	return l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.RemoveLimit(d, category), nil
	})
}

func (l *Ledger) UpdateSetting(ctx context.Context, key string, value any) (WriteResult, error) {
	return l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.UpdateSetting(d, key, value)
	})
}

// Analytics aggregates the current document for period and person.
func (l *Ledger) Analytics(period core.Period, person string) Analytics {
	doc := l.coord.Current()
	now := l.now()
	if person == "" {
		person = core.AllPeople
	}
	goals := make([]core.GoalProgress, 0, len(doc.Goals))
	for _, g := range doc.Goals {
		goals = append(goals, core.Progress(g, now))
	}
	return Analytics{
		Report: core.Analyze(doc.Operations, period, person, now),
		Month:  core.MonthBalances(doc.Operations, now.Year(), int(now.Month())),
		Limits: core.Usage(doc, now),
		Goals:  goals,
	}
}

// Export returns the current document as an indented blob and its
// suggested file name.
func (l *Ledger) Export() ([]byte, string, error) {
	data, err := core.Export(l.coord.Current())
	if err != nil {
		return nil, "", err
	}
	return data, core.ExportName(l.now()), nil
}

// Import merges blob into the current document and saves the result. A
// malformed blob changes nothing.
func (l *Ledger) Import(ctx context.Context, blob []byte) (WriteResult, error) {
	res, err := l.update(ctx, func(d core.Document) (core.Document, error) {
		return core.ImportMerge(d, blob)
	})
	if err != nil {
		l.logger.WarnContext(ctx, "Import rejected", log.FieldOperation, log.OpImport, log.FieldError, err)
		return WriteResult{}, err
	}
	l.logger.InfoContext(ctx, "Document imported", log.FieldOperation, log.OpImport)
	return res, nil
}

// ImportFrom fetches a backup by URI and imports it.
func (l *Ledger) ImportFrom(ctx context.Context, uri string) (WriteResult, error) {
	if l.backups == nil {
		return WriteResult{}, ErrNoBackupStore
	}
	blob, err := l.backups.Fetch(ctx, uri)
	if err != nil {
		return WriteResult{}, fmt.Errorf("fetch backup: %w", err)
	}
	return l.Import(ctx, blob)
}

// Backup stores the export blob and returns where it landed.
func (l *Ledger) Backup(ctx context.Context) (string, error) {
	if l.backups == nil {
		return "", ErrNoBackupStore
	}
	data, name, err := l.Export()
	if err != nil {
		return "", err
	}
	uri, err := l.backups.Put(ctx, name, data)
	if err != nil {
		return "", fmt.Errorf("store backup: %w", err)
	}
	l.logger.InfoContext(ctx, "Backup stored", log.FieldOperation, log.OpBackup, log.FieldObject, uri)
	return uri, nil
}
