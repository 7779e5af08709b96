package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"budgetsync/internal/core"
	"budgetsync/internal/log"
)

const DefaultTimeout = 10 * time.Second

type ClientConfig struct {
	FamilyID string
	// Timeout bounds every remote call.
	Timeout time.Duration
	// VersionCheck turns document saves into conditional writes against the
	// last revision this client observed.
	VersionCheck bool
}

// Client is the budget-specific view of a Tree. Every method degrades to
// false or nil on failure and logs the cause; no raw error escapes.
type Client struct {
	tree   Tree
	cfg    ClientConfig
	logger *slog.Logger

	group    singleflight.Group
	mu       sync.Mutex
	initDone bool
	ready    bool
	uid      string
	lastRev  int64
}

// Handle identifies a live subscription. The zero Handle is inactive.
type Handle struct {
	cancel func()
}

// Active reports whether the handle refers to a subscription.
func (h Handle) Active() bool {
	return h.cancel != nil
}

// NewClient wraps tree. A nil tree yields a client whose Init reports false.
func NewClient(tree Tree, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		tree:   tree,
		cfg:    cfg,
		logger: slog.Default().With(log.FieldComponent, log.ComponentRemote, log.FieldFamilyID, cfg.FamilyID),
	}
}

func (c *Client) FamilyID() string {
	return c.cfg.FamilyID
}

// UID returns the anonymous identity, empty before a successful Init.
func (c *Client) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *Client) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// Init signs in anonymously and probes write access. The outcome is
// computed once; later and concurrent calls share it.
func (c *Client) Init(ctx context.Context) bool {
	if c.tree == nil {
		return false
	}
	c.mu.Lock()
	if c.initDone {
		ready := c.ready
		c.mu.Unlock()
		return ready
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do("init", func() (any, error) {
		c.mu.Lock()
		if c.initDone {
			ready := c.ready
			c.mu.Unlock()
			return ready, nil
		}
		c.mu.Unlock()

		ready := c.initialize(ctx)

		c.mu.Lock()
		c.initDone = true
		c.ready = ready
		c.mu.Unlock()
		return ready, nil
	})
	return v.(bool)
}

func (c *Client) initialize(ctx context.Context) bool {
	callCtx, cancel := c.call(ctx)
	defer cancel()

	uid, err := c.tree.SignInAnonymously(callCtx)
	if err != nil {
		errType := log.ErrorTypeNetwork
		if errors.Is(err, ErrAuthRejected) {
			errType = log.ErrorTypeAuth
		}
		c.logger.WarnContext(ctx, "Anonymous sign-in failed, cloud sync disabled",
			log.FieldOperation, log.OpInit,
			log.FieldErrorType, errType,
			log.FieldError, err)
		return false
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()

	c.probe(ctx)
	c.logger.InfoContext(ctx, "Cloud sync available", log.FieldOperation, log.OpInit, "uid", uid)
	return true
}

// probe writes and removes a marker node. Failures do not affect Init.
func (c *Client) probe(ctx context.Context) {
	callCtx, cancel := c.call(ctx)
	defer cancel()

	path := familyPath(c.cfg.FamilyID, probeNode)
	marker := map[string]any{"timestamp": time.Now().UnixMilli(), "test": true}
	if _, err := c.tree.Set(callCtx, path, marker); err != nil {
		c.logger.DebugContext(ctx, "Connectivity probe write failed", log.FieldError, err)
		return
	}
	if err := c.tree.Remove(callCtx, path); err != nil {
		c.logger.DebugContext(ctx, "Connectivity probe cleanup failed", log.FieldError, err)
	}
}

func (c *Client) documentPath() string {
	return familyPath(c.cfg.FamilyID, budgetDataNode)
}

func (c *Client) observe(rev int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rev > c.lastRev {
		c.lastRev = rev
	}
}

func (c *Client) observed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRev
}

// Save overwrites the shared document.
func (c *Client) Save(ctx context.Context, doc core.Document) bool {
	if c.tree == nil {
		return false
	}
	callCtx, cancel := c.call(ctx)
	defer cancel()

	data, err := json.Marshal(doc)
	if err != nil {
		c.logger.ErrorContext(ctx, "Document not serializable", log.FieldOperation, log.OpSave, log.FieldError, err)
		return false
	}

	var rev int64
	if expect := c.observed(); c.cfg.VersionCheck && expect > 0 {
		rev, err = c.tree.SetIf(callCtx, c.documentPath(), json.RawMessage(data), expect)
	} else {
		rev, err = c.tree.Set(callCtx, c.documentPath(), json.RawMessage(data))
	}
	if errors.Is(err, ErrRevisionMismatch) {
		c.logger.WarnContext(ctx, "Remote document changed since last read, sync delayed",
			log.FieldOperation, log.OpSave,
			log.FieldErrorType, log.ErrorTypeConflict,
			log.FieldRevision, c.observed())
		return false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "Remote save failed",
			log.FieldOperation, log.OpSave,
			log.FieldErrorType, errorType(err),
			log.FieldError, err)
		return false
	}

	c.observe(rev)
	c.logger.DebugContext(ctx, "Remote document saved",
		log.FieldOperation, log.OpSave,
		log.FieldRevision, rev,
		log.FieldOperations, len(doc.Operations))
	return true
}

// Load returns the shared document, or nil when it is absent or unreadable.
func (c *Client) Load(ctx context.Context) *core.Document {
	if c.tree == nil {
		return nil
	}
	callCtx, cancel := c.call(ctx)
	defer cancel()

	snap, err := c.tree.Get(callCtx, c.documentPath())
	if err != nil {
		c.logger.WarnContext(ctx, "Remote load failed",
			log.FieldOperation, log.OpLoad,
			log.FieldErrorType, errorType(err),
			log.FieldError, err)
		return nil
	}
	c.observe(snap.Revision)
	if !snap.Exists() {
		return nil
	}
	doc, err := core.DecodeDocument(snap.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "Remote document unreadable", log.FieldOperation, log.OpLoad, log.FieldError, err)
		return nil
	}
	return &doc
}

// Subscribe delivers every remote change of the shared document, including
// this client's own writes. Absent or unreadable payloads are skipped.
func (c *Client) Subscribe(ctx context.Context, onChange func(core.Document)) (Handle, bool) {
	if c.tree == nil {
		return Handle{}, false
	}
	callCtx, cancel := c.call(ctx)
	defer cancel()

	stop, err := c.tree.Watch(callCtx, c.documentPath(), func(snap Snapshot) {
		c.observe(snap.Revision)
		if !snap.Exists() {
			return
		}
		doc, err := core.DecodeDocument(snap.Value)
		if err != nil {
			c.logger.Warn("Ignoring unreadable remote push", log.FieldOperation, log.OpPush, log.FieldError, err)
			return
		}
		onChange(doc)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Remote subscribe failed",
			log.FieldOperation, log.OpSubscribe,
			log.FieldErrorType, errorType(err),
			log.FieldError, err)
		return Handle{}, false
	}
	return Handle{cancel: stop}, true
}

// Unsubscribe stops a subscription. Inactive handles are ignored.
func (c *Client) Unsubscribe(h Handle) {
	if h.cancel != nil {
		h.cancel()
	}
}

// RegisterDevice records the device under the presence and history nodes.
// The presence entry is removed by the server when this session ends.
func (c *Client) RegisterDevice(ctx context.Context, d core.DeviceIdentity) bool {
	if c.tree == nil {
		return false
	}
	callCtx, cancel := c.call(ctx)
	defer cancel()

	sid := SanitizeKey(d.SessionID)
	active := familyPath(c.cfg.FamilyID, activeDevices, sid)
	if _, err := c.tree.Set(callCtx, active, d); err != nil {
		c.logger.WarnContext(ctx, "Presence write failed", log.FieldOperation, log.OpRegister, log.FieldSessionID, sid, log.FieldError, err)
		return false
	}
	if err := c.tree.OnDisconnectRemove(callCtx, active); err != nil {
		c.logger.WarnContext(ctx, "Presence cleanup not armed", log.FieldOperation, log.OpRegister, log.FieldSessionID, sid, log.FieldError, err)
	}

	history := familyPath(c.cfg.FamilyID, deviceHistory, sid)
	if _, err := c.tree.Set(callCtx, history, d); err != nil {
		c.logger.WarnContext(ctx, "Device history write failed", log.FieldOperation, log.OpRegister, log.FieldSessionID, sid, log.FieldError, err)
		return false
	}
	return true
}

// UpdateDeviceStatus refreshes lastActive and status on the presence entry.
// History entries are left as first registered.
func (c *Client) UpdateDeviceStatus(ctx context.Context, sessionID string, status core.DeviceStatus, at time.Time) bool {
	if c.tree == nil {
		return false
	}
	callCtx, cancel := c.call(ctx)
	defer cancel()

	path := familyPath(c.cfg.FamilyID, activeDevices, SanitizeKey(sessionID))
	_, err := c.tree.Update(callCtx, path, map[string]any{
		"lastActive": at.UTC(),
		"status":     status,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Device status update failed", log.FieldOperation, log.OpHeartbeat, log.FieldSessionID, sessionID, log.FieldError, err)
		return false
	}
	return true
}

// ActiveDevices lists the presence entries, most recently active first.
func (c *Client) ActiveDevices(ctx context.Context) ([]core.DeviceIdentity, bool) {
	if c.tree == nil {
		return nil, false
	}
	callCtx, cancel := c.call(ctx)
	defer cancel()

	children, err := c.tree.List(callCtx, familyPath(c.cfg.FamilyID, activeDevices))
	if err != nil {
		c.logger.WarnContext(ctx, "Listing active devices failed", log.FieldError, err)
		return nil, false
	}
	devices := make([]core.DeviceIdentity, 0, len(children))
	for key, raw := range children {
		var d core.DeviceIdentity
		if err := json.Unmarshal(raw, &d); err != nil {
			c.logger.DebugContext(ctx, "Skipping malformed device entry", log.FieldSessionID, key, log.FieldError, err)
			continue
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastActive.After(devices[j].LastActive)
	})
	return devices, true
}

// MirrorOperation writes a readable copy of an operation under the device's
// mirror node. It is never read back.
func (c *Client) MirrorOperation(ctx context.Context, deviceName string, rec core.MirrorRecord) bool {
	if c.tree == nil {
		return false
	}
	callCtx, cancel := c.call(ctx)
	defer cancel()

	path := MirrorPath(deviceName, rec.ID)
	if _, err := c.tree.Set(callCtx, path, rec); err != nil {
		c.logger.WarnContext(ctx, "Operation mirror write failed",
			log.FieldOperation, log.OpMirror,
			log.FieldRemotePath, path,
			log.FieldError, err)
		return false
	}
	return true
}

// MirrorPath is where a device's mirrored operation lives.
func MirrorPath(deviceName string, opID int64) string {
	return JoinPath(familiesRoot, mirrorFamily, SanitizeKey(deviceName), mirrorOpsNode, strconv.FormatInt(opID, 10))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrAuthRejected):
		return log.ErrorTypeAuth
	default:
		return log.ErrorTypeNetwork
	}
}
