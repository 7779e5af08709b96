package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/log"
	"budgetsync/internal/remote"
)

// RemoteStore is the subset of remote.Client the coordinator talks to.
// Failures surface as false or nil, never as errors.
type RemoteStore interface {
	Init(ctx context.Context) bool
	Load(ctx context.Context) *core.Document
	Save(ctx context.Context, doc core.Document) bool
	Subscribe(ctx context.Context, onChange func(core.Document)) (remote.Handle, bool)
	Unsubscribe(h remote.Handle)
	FamilyID() string
}

// LocalStore is the durable key/value cache on this device.
type LocalStore interface {
	GetRaw(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value any) bool
}

var (
	_ RemoteStore = (*remote.Client)(nil)
)

// CoordinatorConfig holds configuration for the sync coordinator
type CoordinatorConfig struct {
	// StorageKey is the local key holding the serialized document (default: budgetAppData)
	StorageKey string

	// SettleDelay is how long the status stays "syncing" after a push (default: 500ms)
	SettleDelay time.Duration

	// Currency overrides the currency label of a freshly created document
	Currency string
}

// DefaultCoordinatorConfig returns sensible defaults
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		StorageKey:  "budgetAppData",
		SettleDelay: 500 * time.Millisecond,
	}
}

// SaveResult reports where a save landed.
type SaveResult struct {
	Local          bool `json:"local"`
	Remote         bool `json:"remote"`
	CloudAvailable bool `json:"cloudAvailable"`
}

// OK is the combined outcome: the remote write when the cloud is in use,
// the local write otherwise.
func (r SaveResult) OK() bool {
	if r.CloudAvailable {
		return r.Remote
	}
	return r.Local
}

// Degraded reports a save that is durable locally but not yet shared.
func (r SaveResult) Degraded() bool {
	return r.CloudAvailable && r.Local && !r.Remote
}

// Stored reports whether the document landed anywhere.
func (r SaveResult) Stored() bool {
	return r.Local || r.Remote
}

// Coordinator reconciles the local cache with the shared remote document.
// All writes, including remote pushes, are serialized.
type Coordinator struct {
	remote RemoteStore
	local  LocalStore
	config CoordinatorConfig
	status *StatusTracker
	logger *slog.Logger

	initMu   sync.Mutex
	initDone bool
	cloud    bool

	writeMu sync.Mutex
	mu      sync.RWMutex
	current core.Document
}

// NewCoordinator creates a coordinator. remote may be nil when no remote
// backend is configured.
func NewCoordinator(rs RemoteStore, local LocalStore, config CoordinatorConfig) *Coordinator {
	def := DefaultCoordinatorConfig()
	if config.StorageKey == "" {
		config.StorageKey = def.StorageKey
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	familyID := ""
	if rs != nil {
		familyID = rs.FamilyID()
	}
	return &Coordinator{
		remote:  rs,
		local:   local,
		config:  config,
		status:  NewStatusTracker(familyID),
		logger:  slog.Default().With(log.FieldComponent, log.ComponentCoordinator, log.FieldFamilyID, familyID),
		current: defaultDocument(config.Currency),
	}
}

func defaultDocument(currency string) core.Document {
	doc := core.DefaultDocument()
	if currency != "" {
		doc.Settings[core.SettingCurrency] = currency
	}
	return doc
}

// Init probes the remote store once. The answer holds for the process
// lifetime; later calls return it without touching the network.
func (c *Coordinator) Init(ctx context.Context) bool {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initDone {
		return c.cloud
	}
	c.initDone = true

	c.status.Set(StateConnecting)
	if c.remote != nil {
		c.cloud = c.remote.Init(ctx)
	}
	c.status.SetCloud(c.cloud)
	if !c.cloud {
		c.status.Set(StateOffline)
		c.logger.InfoContext(ctx, "Cloud unavailable, running on local storage", log.FieldOperation, log.OpInit)
		return false
	}
	c.logger.InfoContext(ctx, "Cloud sync available", log.FieldOperation, log.OpInit)
	return true
}

// CloudAvailable reports the outcome of Init.
func (c *Coordinator) CloudAvailable() bool {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	return c.cloud
}

// Load returns the best available document: the shared one, then the local
// cache, then the default document. It holds the write lock so a concurrent
// Update cannot be overwritten by an older snapshot.
func (c *Coordinator) Load(ctx context.Context) core.Document {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.CloudAvailable() {
		if doc := c.remote.Load(ctx); doc != nil {
			normalized := core.Normalize(*doc)
			if !c.local.Set(ctx, c.config.StorageKey, normalized) {
				c.logger.WarnContext(ctx, "Write-through to local cache failed", log.FieldOperation, log.OpLoad)
			}
			c.replace(normalized)
			c.status.MarkSynced()
			c.logger.InfoContext(ctx, "Loaded shared document",
				log.FieldOperation, log.OpLoad,
				log.FieldOperations, len(normalized.Operations))
			return normalized.Clone()
		}
		c.logger.WarnContext(ctx, "Remote load returned nothing, falling back to local cache", log.FieldOperation, log.OpLoad)
	}

	if doc, ok := c.loadLocal(ctx); ok {
		c.replace(doc)
		return doc.Clone()
	}

	doc := defaultDocument(c.config.Currency)
	c.replace(doc)
	c.logger.InfoContext(ctx, "No stored document, starting from defaults", log.FieldOperation, log.OpLoad)
	return doc.Clone()
}

func (c *Coordinator) loadLocal(ctx context.Context) (core.Document, bool) {
	raw, ok := c.local.GetRaw(ctx, c.config.StorageKey)
	if !ok {
		return core.Document{}, false
	}
	doc, err := core.DecodeDocument([]byte(raw))
	if err != nil {
		c.logger.WarnContext(ctx, "No usable cached data",
			log.FieldOperation, log.OpLoad,
			log.FieldKey, c.config.StorageKey,
			log.FieldError, err)
		return core.Document{}, false
	}
	return core.Normalize(doc), true
}

// Save persists doc and reports the combined outcome.
func (c *Coordinator) Save(ctx context.Context, doc core.Document) bool {
	return c.SaveDetailed(ctx, doc).OK()
}

// SaveDetailed writes doc locally first, then to the remote store when the
// cloud is available.
func (c *Coordinator) SaveDetailed(ctx context.Context, doc core.Document) SaveResult {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.saveLocked(ctx, core.Normalize(doc.Clone()))
}

func (c *Coordinator) saveLocked(ctx context.Context, doc core.Document) SaveResult {
	res := SaveResult{CloudAvailable: c.CloudAvailable()}
	res.Local = c.local.Set(ctx, c.config.StorageKey, doc)
	if res.Local {
		c.replace(doc)
	}
	if res.CloudAvailable {
		res.Remote = c.remote.Save(ctx, doc)
		if res.Remote {
			c.replace(doc)
			c.status.MarkSynced()
		}
	}

	switch {
	case res.Degraded():
		c.logger.WarnContext(ctx, "Saved locally, sync delayed", log.FieldOperation, log.OpSave)
	case !res.Local && !res.Remote:
		c.logger.ErrorContext(ctx, "Save failed everywhere", log.FieldOperation, log.OpSave)
	default:
		c.logger.DebugContext(ctx, "Document saved",
			log.FieldOperation, log.OpSave,
			"local", res.Local,
			"remote", res.Remote)
	}
	return res
}

// Update applies fn to the current snapshot and saves the result. A
// failing fn leaves everything untouched.
func (c *Coordinator) Update(ctx context.Context, fn func(core.Document) (core.Document, error)) (core.Document, SaveResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next, err := fn(c.Current())
	if err != nil {
		return core.Document{}, SaveResult{}, err
	}
	next = core.Normalize(next)
	res := c.saveLocked(ctx, next)
	return next.Clone(), res, nil
}

// SetupRealtimeSync subscribes to remote changes. Each push replaces the
// in-memory document, is written through to the local cache and handed to
// onUpdate. Offline it returns an inactive handle.
func (c *Coordinator) SetupRealtimeSync(ctx context.Context, onUpdate func(core.Document)) remote.Handle {
	if !c.CloudAvailable() {
		c.status.Set(StateOffline)
		return remote.Handle{}
	}

	h, ok := c.remote.Subscribe(ctx, func(doc core.Document) {
		c.applyPush(context.WithoutCancel(ctx), doc, onUpdate)
	})
	if !ok {
		// Saves still reach the cloud; only pushes are missing.
		c.status.SetIf(StateConnecting, StateConnected)
		c.logger.WarnContext(ctx, "Realtime sync unavailable", log.FieldOperation, log.OpSubscribe)
		return remote.Handle{}
	}
	c.status.SetIf(StateConnecting, StateConnected)
	c.logger.InfoContext(ctx, "Realtime sync established", log.FieldOperation, log.OpSubscribe)
	return h
}

// RemoveRealtimeSync stops a subscription. Inactive handles are ignored.
func (c *Coordinator) RemoveRealtimeSync(h remote.Handle) {
	if !h.Active() || c.remote == nil {
		return
	}
	c.remote.Unsubscribe(h)
}

func (c *Coordinator) applyPush(ctx context.Context, doc core.Document, onUpdate func(core.Document)) {
	c.writeMu.Lock()
	c.status.Set(StateSyncing)
	normalized := core.Normalize(doc)
	c.replace(normalized)
	if !c.local.Set(ctx, c.config.StorageKey, normalized) {
		c.logger.WarnContext(ctx, "Write-through of remote push failed", log.FieldOperation, log.OpPush)
	}
	c.status.MarkSynced()
	c.writeMu.Unlock()

	c.logger.DebugContext(ctx, "Applied remote push",
		log.FieldOperation, log.OpPush,
		log.FieldOperations, len(normalized.Operations))

	if onUpdate != nil {
		onUpdate(normalized.Clone())
	}
	c.status.SettleAfter(c.config.SettleDelay)
}

// Status returns the current sync status.
func (c *Coordinator) Status() Status {
	return c.status.Snapshot()
}

// Tracker exposes the status tracker for change subscriptions.
func (c *Coordinator) Tracker() *StatusTracker {
	return c.status
}

// Current returns a copy of the in-memory document.
func (c *Coordinator) Current() core.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Clone()
}

func (c *Coordinator) replace(doc core.Document) {
	c.mu.Lock()
	c.current = doc.Clone()
	c.mu.Unlock()
}

