// Package directory is the identity/device repository consumed by the
// decision engine. Updates are atomic per entity: concurrent requests for
// the same user or device serialize on a per-entity lock, while unrelated
// entities proceed in parallel. Reads return detached snapshots, and
// updates swap in a fresh record rather than mutating the stored one, so
// a snapshot handed out earlier is never written under a reader.
package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ztx/accessd/internal/core"
)

// Backing is an optional durable store behind the in-memory directory.
// Writes go through after each update; reads fall through to the backing
// on a memory miss, so records written by another pod become visible here.
type Backing interface {
	SaveUser(ctx context.Context, u *core.UserIdentity) error
	LoadUser(ctx context.Context, id string) (*core.UserIdentity, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	SaveDevice(ctx context.Context, d *core.DeviceTrust) error
	LoadDevice(ctx context.Context, id string) (*core.DeviceTrust, error)
	ListDeviceIDs(ctx context.Context) ([]string, error)
}

// Store holds user and device records with per-entity update locking.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*core.UserIdentity
	devices map[string]*core.DeviceTrust
	locks   map[string]*sync.Mutex
	backing Backing
}

// NewStore creates an empty directory. backing may be nil.
func NewStore(backing Backing) *Store {
	return &Store{
		users:   make(map[string]*core.UserIdentity),
		devices: make(map[string]*core.DeviceTrust),
		locks:   make(map[string]*sync.Mutex),
		backing: backing,
	}
}

func (s *Store) entityLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Warm loads every record from the backing store into memory. Called once
// at startup so a restarted pod serves the directory another pod wrote.
func (s *Store) Warm(ctx context.Context) error {
	if s.backing == nil {
		return nil
	}

	userIDs, err := s.backing.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		u, err := s.backing.LoadUser(ctx, id)
		if err != nil {
			slog.Warn("[Directory] Warm-up skipped user", "user_id", id, "error", err)
			continue
		}
		s.mu.Lock()
		s.users[u.ID] = u
		s.mu.Unlock()
	}

	deviceIDs, err := s.backing.ListDeviceIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range deviceIDs {
		d, err := s.backing.LoadDevice(ctx, id)
		if err != nil {
			slog.Warn("[Directory] Warm-up skipped device", "device_id", id, "error", err)
			continue
		}
		s.mu.Lock()
		s.devices[d.ID] = d
		s.mu.Unlock()
	}
	return nil
}

// PutUser provisions or replaces a user record. The store keeps its own
// copy, so later caller-side mutation does not leak in.
func (s *Store) PutUser(ctx context.Context, u *core.UserIdentity) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	stored := u.Clone()
	s.mu.Lock()
	s.users[stored.ID] = stored
	s.mu.Unlock()
	s.persistUser(ctx, stored)
}

// GetUser returns a detached copy of a user record. A memory miss falls
// through to the backing store.
func (s *Store) GetUser(ctx context.Context, id string) (*core.UserIdentity, error) {
	s.mu.RLock()
	u, ok := s.users[id]
	s.mu.RUnlock()
	if ok {
		return u.Clone(), nil
	}
	if s.backing == nil {
		return nil, &core.NotFoundError{Kind: "user", ID: id}
	}

	loaded, err := s.backing.LoadUser(ctx, id)
	if err != nil {
		return nil, &core.NotFoundError{Kind: "user", ID: id}
	}
	s.mu.Lock()
	s.users[loaded.ID] = loaded
	s.mu.Unlock()
	return loaded.Clone(), nil
}

// UpdateUser applies fn under the user's entity lock so concurrent
// read-modify-write cycles for the same user never lose updates. fn runs
// on a copy that replaces the stored record only on success.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*core.UserIdentity) error) error {
	l := s.entityLock("user:" + id)
	l.Lock()
	defer l.Unlock()

	cur, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(cur); err != nil {
		return err
	}
	s.mu.Lock()
	s.users[id] = cur
	s.mu.Unlock()
	s.persistUser(ctx, cur)
	return nil
}

// PutDevice registers or replaces a device record.
func (s *Store) PutDevice(ctx context.Context, d *core.DeviceTrust) {
	if d.FirstSeen.IsZero() {
		d.FirstSeen = time.Now()
	}
	stored := d.Clone()
	s.mu.Lock()
	s.devices[stored.ID] = stored
	s.mu.Unlock()
	s.persistDevice(ctx, stored)
}

// GetDevice returns a detached copy of a device record. A memory miss
// falls through to the backing store.
func (s *Store) GetDevice(ctx context.Context, id string) (*core.DeviceTrust, error) {
	s.mu.RLock()
	d, ok := s.devices[id]
	s.mu.RUnlock()
	if ok {
		return d.Clone(), nil
	}
	if s.backing == nil {
		return nil, &core.NotFoundError{Kind: "device", ID: id}
	}

	loaded, err := s.backing.LoadDevice(ctx, id)
	if err != nil {
		return nil, &core.NotFoundError{Kind: "device", ID: id}
	}
	s.mu.Lock()
	s.devices[loaded.ID] = loaded
	s.mu.Unlock()
	return loaded.Clone(), nil
}

// UpdateDevice applies fn under the device's entity lock.
func (s *Store) UpdateDevice(ctx context.Context, id string, fn func(*core.DeviceTrust) error) error {
	l := s.entityLock("device:" + id)
	l.Lock()
	defer l.Unlock()

	cur, err := s.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(cur); err != nil {
		return err
	}
	s.mu.Lock()
	s.devices[id] = cur
	s.mu.Unlock()
	s.persistDevice(ctx, cur)
	return nil
}

// QuarantineDevice marks a device quarantined. The state is terminal until
// ClearDeviceQuarantine is called explicitly.
func (s *Store) QuarantineDevice(ctx context.Context, id, reason string) error {
	return s.UpdateDevice(ctx, id, func(d *core.DeviceTrust) error {
		d.Quarantined = true
		d.QuarantineReason = reason
		return nil
	})
}

// ClearDeviceQuarantine lifts a quarantine after explicit remediation.
func (s *Store) ClearDeviceQuarantine(ctx context.Context, id string) error {
	return s.UpdateDevice(ctx, id, func(d *core.DeviceTrust) error {
		d.Quarantined = false
		d.QuarantineReason = ""
		return nil
	})
}

func (s *Store) persistUser(ctx context.Context, u *core.UserIdentity) {
	if s.backing == nil {
		return
	}
	// Best effort; the in-memory record is authoritative for this process.
	if err := s.backing.SaveUser(ctx, u); err != nil {
		slog.Warn("[Directory] Failed to persist user", "user_id", u.ID, "error", err)
	}
}

func (s *Store) persistDevice(ctx context.Context, d *core.DeviceTrust) {
	if s.backing == nil {
		return
	}
	if err := s.backing.SaveDevice(ctx, d); err != nil {
		slog.Warn("[Directory] Failed to persist device", "device_id", d.ID, "error", err)
	}
}
