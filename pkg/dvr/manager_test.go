package dvr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/session"
	"github.com/carverauto/dvrsync/pkg/settings"
)

type managerHarness struct {
	t     *testing.T
	mgr   *Manager
	store settings.Store
	col   *eventCollector
	clock *fakeClock
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()

	store, err := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	bus := NewBus()
	clock := newFakeClock()

	mgr, err := NewManager(ManagerOptions{
		Store:  store,
		Bus:    bus,
		Clock:  clock,
		Logger: logger.NewTestLogger(),
		NewSession: func(session.ClientConfig) (session.Session, error) {
			return newFakeSession(), nil
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mgr.Stop(context.Background()))
	})

	return &managerHarness{
		t:     t,
		mgr:   mgr,
		store: store,
		col:   collect(bus),
		clock: clock,
	}
}

func TestManagerAddServer(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	srv, err := h.mgr.AddServer(ctx, AddServerParams{
		DisplayName: "Warehouse",
		Hostname:    "dvr.example.net",
		Username:    "admin",
		Password:    "hunter2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, srv.ID())

	assert.Equal(t, "Warehouse", srv.DisplayName())
	assert.Equal(t, settings.DefaultServerPort, srv.Port())

	ids, err := settings.Index(ctx, h.store)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.ID()}, ids)

	got, ok := h.mgr.Server(srv.ID())
	require.True(t, ok)
	assert.Same(t, srv, got)

	assert.Equal(t, 1, h.col.count(EventServerAdded))
	assert.False(t, srv.Online(), "auto-connect was off")
}

func TestManagerAddDuplicate(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	_, err := h.mgr.AddServer(ctx, AddServerParams{ID: "dup", Hostname: "a.example.net"})
	require.NoError(t, err)

	_, err = h.mgr.AddServer(ctx, AddServerParams{ID: "dup", Hostname: "b.example.net"})
	require.ErrorIs(t, err, ErrServerExists)
}

func TestManagerAddRequiresHostname(t *testing.T) {
	h := newManagerHarness(t)

	_, err := h.mgr.AddServer(context.Background(), AddServerParams{})
	require.Error(t, err)
}

func TestManagerRemoveServer(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	_, err := h.mgr.AddServer(ctx, AddServerParams{ID: "gone", Hostname: "dvr.example.net"})
	require.NoError(t, err)

	require.NoError(t, h.mgr.RemoveServer(ctx, "gone"))

	_, ok := h.mgr.Server("gone")
	assert.False(t, ok)

	ids, err := settings.Index(ctx, h.store)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, found, err := h.store.Get(ctx, "servers/gone/hostname")
	require.NoError(t, err)
	assert.False(t, found, "settings must be purged")

	assert.Equal(t, 1, h.col.count(EventServerRemoved))
	assert.Equal(t, "gone", mustLast(t, h.col, EventServerRemoved).ServerID)
}

func TestManagerRemoveUnknown(t *testing.T) {
	h := newManagerHarness(t)

	err := h.mgr.RemoveServer(context.Background(), "missing")
	require.ErrorIs(t, err, ErrServerNotFound)
}

func TestManagerStartLoadsIndex(t *testing.T) {
	store, err := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	ctx := context.Background()

	ss, err := settings.LoadServerSettings(ctx, store, "seeded")
	require.NoError(t, err)
	require.NoError(t, ss.SetHostname(ctx, "dvr.example.net"))
	require.NoError(t, settings.SaveIndex(ctx, store, []string{"seeded"}))

	mgr, err := NewManager(ManagerOptions{
		Store:  store,
		Logger: logger.NewTestLogger(),
		Clock:  newFakeClock(),
		NewSession: func(session.ClientConfig) (session.Session, error) {
			return newFakeSession(), nil
		},
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})

	go func() {
		_ = mgr.Start(runCtx)
		close(stopped)
	}()

	t.Cleanup(func() {
		require.NoError(t, mgr.Stop(context.Background()))
		cancel()

		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
	})

	require.Eventually(t, func() bool {
		srv, ok := mgr.Server("seeded")
		return ok && srv.Online()
	}, 2*time.Second, 10*time.Millisecond, "seeded server should auto-connect")

	summaries := mgr.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "seeded", summaries[0].ID)
	assert.True(t, summaries[0].AutoConnect)
}

func mustLast(t *testing.T, col *eventCollector, tp EventType) Event {
	t.Helper()

	ev, ok := col.last(tp)
	require.True(t, ok)

	return ev
}
