package directory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztx/accessd/internal/core"
)

func TestPutGetUser(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	s.PutUser(ctx, &core.UserIdentity{ID: "u1", Role: "analyst"})

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "analyst", u.Role)
	assert.False(t, u.CreatedAt.IsZero())

	_, err = s.GetUser(ctx, "ghost")
	var nfe *core.NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestUpdateUser_ConcurrentAppendsDoNotLoseEntries(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	s.PutUser(ctx, &core.UserIdentity{ID: "u1"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.UpdateUser(ctx, "u1", func(u *core.UserIdentity) error {
				u.Anomalies = append(u.Anomalies, core.Anomaly{Type: "unusual_time"})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, u.Anomalies, 50)
}

func TestGetUser_ReturnsDetachedSnapshot(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	s.PutUser(ctx, &core.UserIdentity{ID: "u1"})

	before, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateUser(ctx, "u1", func(u *core.UserIdentity) error {
		u.Anomalies = append(u.Anomalies, core.Anomaly{Type: "new_device"})
		u.FailedAuthAttempts = 7
		return nil
	}))

	// The earlier snapshot is unchanged; a fresh read sees the update.
	assert.Empty(t, before.Anomalies)
	assert.Zero(t, before.FailedAuthAttempts)

	after, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, after.Anomalies, 1)
	assert.Equal(t, 7, after.FailedAuthAttempts)
}

func TestGetUser_SnapshotSafeUnderConcurrentUpdates(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	s.PutUser(ctx, &core.UserIdentity{ID: "u1"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = s.UpdateUser(ctx, "u1", func(u *core.UserIdentity) error {
				u.Anomalies = append(u.Anomalies, core.Anomaly{Type: "unusual_time"})
				return nil
			})
		}
	}()

	for i := 0; i < 200; i++ {
		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		_ = u.ActiveAnomalies()
	}
	<-done

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, u.Anomalies, 200)
}

func TestQuarantineDevice_RoundTrip(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	s.PutDevice(ctx, &core.DeviceTrust{ID: "d1"})

	require.NoError(t, s.QuarantineDevice(ctx, "d1", "incident-42"))
	d, err := s.GetDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.Quarantined)
	assert.Equal(t, "incident-42", d.QuarantineReason)

	require.NoError(t, s.ClearDeviceQuarantine(ctx, "d1"))
	d, _ = s.GetDevice(ctx, "d1")
	assert.False(t, d.Quarantined)
	assert.Empty(t, d.QuarantineReason)

	assert.Error(t, s.QuarantineDevice(ctx, "ghost", "x"))
}

// fakeBacking is an in-memory Backing with load/save counters.
type fakeBacking struct {
	mu          sync.Mutex
	users       map[string]*core.UserIdentity
	devices     map[string]*core.DeviceTrust
	userSaves   int
	deviceSaves int
	userLoads   int
}

func newFakeBacking() *fakeBacking {
	return &fakeBacking{
		users:   make(map[string]*core.UserIdentity),
		devices: make(map[string]*core.DeviceTrust),
	}
}

func (f *fakeBacking) SaveUser(_ context.Context, u *core.UserIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u.Clone()
	f.userSaves++
	return nil
}

func (f *fakeBacking) LoadUser(_ context.Context, id string) (*core.UserIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userLoads++
	u, ok := f.users[id]
	if !ok {
		return nil, &core.NotFoundError{Kind: "user", ID: id}
	}
	return u.Clone(), nil
}

func (f *fakeBacking) ListUserIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeBacking) SaveDevice(_ context.Context, d *core.DeviceTrust) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.ID] = d.Clone()
	f.deviceSaves++
	return nil
}

func (f *fakeBacking) LoadDevice(_ context.Context, id string) (*core.DeviceTrust, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, &core.NotFoundError{Kind: "device", ID: id}
	}
	return d.Clone(), nil
}

func (f *fakeBacking) ListDeviceIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestBacking_ReceivesWrites(t *testing.T) {
	b := newFakeBacking()
	s := NewStore(b)
	ctx := context.Background()

	s.PutUser(ctx, &core.UserIdentity{ID: "u1"})
	s.PutDevice(ctx, &core.DeviceTrust{ID: "d1"})
	require.NoError(t, s.UpdateDevice(ctx, "d1", func(d *core.DeviceTrust) error {
		d.Managed = true
		return nil
	}))

	assert.Equal(t, 1, b.userSaves)
	assert.Equal(t, 2, b.deviceSaves)
}

func TestGetUser_ReadsThroughOnMemoryMiss(t *testing.T) {
	ctx := context.Background()

	// Written by "another pod": present in the backing only.
	b := newFakeBacking()
	require.NoError(t, b.SaveUser(ctx, &core.UserIdentity{ID: "u1", Role: "analyst"}))
	b.userSaves = 0

	s := NewStore(b)
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "analyst", u.Role)
	assert.Equal(t, 1, b.userLoads)

	// Second read is served from memory.
	_, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.userLoads)

	_, err = s.GetUser(ctx, "ghost")
	var nfe *core.NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestUpdateUser_ReadsThroughOnMemoryMiss(t *testing.T) {
	ctx := context.Background()
	b := newFakeBacking()
	require.NoError(t, b.SaveUser(ctx, &core.UserIdentity{ID: "u1"}))

	s := NewStore(b)
	require.NoError(t, s.UpdateUser(ctx, "u1", func(u *core.UserIdentity) error {
		u.Watchlisted = true
		return nil
	}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Watchlisted)
	assert.True(t, b.users["u1"].Watchlisted) // update persisted back
}

func TestWarm_BootstrapsFromBacking(t *testing.T) {
	ctx := context.Background()
	b := newFakeBacking()
	require.NoError(t, b.SaveUser(ctx, &core.UserIdentity{ID: "u1"}))
	require.NoError(t, b.SaveUser(ctx, &core.UserIdentity{ID: "u2"}))
	require.NoError(t, b.SaveDevice(ctx, &core.DeviceTrust{ID: "d1", Managed: true}))

	s := NewStore(b)
	require.NoError(t, s.Warm(ctx))
	b.userLoads = 0

	// All records present without further backing reads.
	_, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	_, err = s.GetUser(ctx, "u2")
	require.NoError(t, err)
	d, err := s.GetDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.Managed)
	assert.Equal(t, 0, b.userLoads)
}
