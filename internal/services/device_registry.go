package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/log"
	"budgetsync/internal/remote"
)

// DeviceStore is the presence part of the remote client.
type DeviceStore interface {
	RegisterDevice(ctx context.Context, d core.DeviceIdentity) bool
	UpdateDeviceStatus(ctx context.Context, sessionID string, status core.DeviceStatus, at time.Time) bool
	ActiveDevices(ctx context.Context) ([]core.DeviceIdentity, bool)
}

var _ DeviceStore = (*remote.Client)(nil)

var errDeviceWrite = errors.New("device write rejected")

// DeviceRegistry announces this session to the family and keeps its
// presence entry fresh. Writes go through the diagnostics queue and never
// block or fail the caller.
type DeviceRegistry struct {
	store    DeviceStore
	queue    *DiagnosticsQueue
	cloud    func() bool
	identity core.DeviceIdentity
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDeviceRegistry creates a registry for identity. cloud reports whether
// the remote store is usable; every write is skipped while it is false.
func NewDeviceRegistry(store DeviceStore, queue *DiagnosticsQueue, cloud func() bool, identity core.DeviceIdentity, heartbeat time.Duration) *DeviceRegistry {
	if heartbeat <= 0 {
		heartbeat = time.Minute
	}
	return &DeviceRegistry{
		store:    store,
		queue:    queue,
		cloud:    cloud,
		identity: identity,
		interval: heartbeat,
		logger: slog.Default().With(
			log.FieldComponent, log.ComponentDevices,
			log.FieldSessionID, identity.SessionID),
		now: time.Now,
	}
}

// Identity returns the session identity this registry announces.
func (r *DeviceRegistry) Identity() core.DeviceIdentity {
	return r.identity
}

func (r *DeviceRegistry) available() bool {
	return r.store != nil && r.cloud != nil && r.cloud()
}

// Register queues the presence and history writes for d.
func (r *DeviceRegistry) Register(d core.DeviceIdentity) bool {
	if !r.available() {
		return false
	}
	return r.queue.Enqueue(Task{
		Name: "register-device",
		Run: func(ctx context.Context) error {
			if !r.store.RegisterDevice(ctx, d) {
				return fmt.Errorf("register %s: %w", d.SessionID, errDeviceWrite)
			}
			return nil
		},
	})
}

// UpdateStatus queues a status and lastActive patch of the presence entry.
func (r *DeviceRegistry) UpdateStatus(sessionID string, status core.DeviceStatus) bool {
	if !r.available() {
		return false
	}
	at := r.now().UTC()
	return r.queue.Enqueue(Task{
		Name: "device-status",
		Run: func(ctx context.Context) error {
			if !r.store.UpdateDeviceStatus(ctx, sessionID, status, at) {
				return fmt.Errorf("status %s: %w", sessionID, errDeviceWrite)
			}
			return nil
		},
	})
}

// Active lists the devices currently connected to the family.
func (r *DeviceRegistry) Active(ctx context.Context) []core.DeviceIdentity {
	if !r.available() {
		return []core.DeviceIdentity{}
	}
	devices, ok := r.store.ActiveDevices(ctx)
	if !ok {
		return []core.DeviceIdentity{}
	}
	return devices
}

// Start registers this session and begins the heartbeat. It is a no-op
// while the cloud is unavailable.
func (r *DeviceRegistry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("device registry is already running")
	}
	if !r.available() {
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "Cloud unavailable, device presence disabled")
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	r.Register(r.identity)
	go r.heartbeat(r.stopCh, r.doneCh)

	r.logger.InfoContext(ctx, "Device registered",
		log.FieldDeviceName, r.identity.Name,
		"heartbeat", r.interval)
	return nil
}

// Stop ends the heartbeat and reports this session offline directly, so
// the write does not depend on the queue still running.
func (r *DeviceRegistry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !r.store.UpdateDeviceStatus(ctx, r.identity.SessionID, core.StatusOffline, r.now().UTC()) {
		r.logger.WarnContext(ctx, "Could not report offline status", log.FieldOperation, log.OpShutdown)
	}
	return nil
}

func (r *DeviceRegistry) heartbeat(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !r.UpdateStatus(r.identity.SessionID, core.StatusOnline) {
				r.logger.Debug("Heartbeat skipped", log.FieldOperation, log.OpHeartbeat)
			}
		}
	}
}
