package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globelod/pkg/lod"
)

// MockStateStore implements store.StateStore for testing.
type MockStateStore struct {
	data map[string]string
}

func NewMockStateStore() *MockStateStore {
	return &MockStateStore{data: make(map[string]string)}
}

func (m *MockStateStore) GetState(ctx context.Context, key string) (string, bool) {
	val, ok := m.data[key]
	return val, ok
}

func (m *MockStateStore) SetState(ctx context.Context, key, val string) error {
	m.data[key] = val
	return nil
}

func (m *MockStateStore) DeleteState(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestUnifiedProvider(t *testing.T) {
	ctx := context.Background()
	base := DefaultConfig()
	base.LOD.MaxProfile = "regional"
	base.Terrain.URL = "https://tiles.example.com/dem/"

	st := NewMockStateStore()
	p := NewProvider(base, st)

	t.Run("Defaults_And_Fallbacks", func(t *testing.T) {
		_, pinned := p.PinnedProfile(ctx)
		assert.False(t, pinned)

		ceiling, ok := p.MaxProfile(ctx)
		require.True(t, ok)
		assert.Equal(t, lod.Regional, ceiling)

		assert.Equal(t, "https://tiles.example.com/dem/", p.TerrainURL(ctx))
		assert.Equal(t, "tactical-dark", p.ActiveTheme(ctx))
		assert.Equal(t, 100, p.HistoryLimit(ctx))
		assert.Equal(t, Day, p.MaintenanceInterval(ctx))
		assert.Same(t, base, p.AppConfig())
	})

	t.Run("Store_Overrides", func(t *testing.T) {
		st.data[KeyHistoryLimit] = "25"
		st.data[KeyMaintenanceInterval] = "2w"
		st.data[KeyActiveTheme] = "daylight"

		assert.Equal(t, 25, p.HistoryLimit(ctx))
		assert.Equal(t, 2*Week, p.MaintenanceInterval(ctx))
		assert.Equal(t, "daylight", p.ActiveTheme(ctx))
	})

	t.Run("Set_And_Clear_Profiles", func(t *testing.T) {
		tactical := lod.Tactical
		require.NoError(t, p.SetPinnedProfile(ctx, &tactical))
		got, ok := p.PinnedProfile(ctx)
		require.True(t, ok)
		assert.Equal(t, lod.Tactical, got)
		assert.Equal(t, "tactical", st.data[KeyPinnedProfile])

		global := lod.Global
		require.NoError(t, p.SetMaxProfile(ctx, &global))
		got, _ = p.MaxProfile(ctx)
		assert.Equal(t, lod.Global, got)

		require.NoError(t, p.SetPinnedProfile(ctx, nil))
		_, ok = p.PinnedProfile(ctx)
		assert.False(t, ok)

		require.NoError(t, p.SetMaxProfile(ctx, nil))
		got, ok = p.MaxProfile(ctx)
		require.True(t, ok, "falls back to the static ceiling")
		assert.Equal(t, lod.Regional, got)
	})

	t.Run("Invalid_Values_Ignored", func(t *testing.T) {
		st.data[KeyPinnedProfile] = "orbital"
		st.data[KeyHistoryLimit] = "lots"
		st.data[KeyMaintenanceInterval] = "soon"

		_, ok := p.PinnedProfile(ctx)
		assert.False(t, ok)
		assert.Equal(t, 100, p.HistoryLimit(ctx))
		assert.Equal(t, time.Duration(base.Maintenance.MinInterval), p.MaintenanceInterval(ctx))
	})
}

func TestUnifiedProvider_NilStore(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(DefaultConfig(), nil)

	tactical := lod.Tactical
	require.NoError(t, p.SetPinnedProfile(ctx, &tactical))
	_, ok := p.PinnedProfile(ctx)
	assert.False(t, ok)
}
