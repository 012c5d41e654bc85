package config

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"globelod/pkg/lod"
	"globelod/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	// LOD overrides, read on every evaluation.
	PinnedProfile(ctx context.Context) (lod.Profile, bool)
	MaxProfile(ctx context.Context) (lod.Profile, bool)
	SetPinnedProfile(ctx context.Context, p *lod.Profile) error
	SetMaxProfile(ctx context.Context, p *lod.Profile) error

	TerrainURL(ctx context.Context) string
	ActiveTheme(ctx context.Context) string
	HistoryLimit(ctx context.Context) int
	MaintenanceInterval(ctx context.Context) time.Duration

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider. st may be nil.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) PinnedProfile(ctx context.Context) (lod.Profile, bool) {
	return p.getProfile(ctx, KeyPinnedProfile, p.base.LOD.PinnedProfile)
}

func (p *UnifiedProvider) MaxProfile(ctx context.Context) (lod.Profile, bool) {
	return p.getProfile(ctx, KeyMaxProfile, p.base.LOD.MaxProfile)
}

// SetPinnedProfile stores the pin. Nil clears it, which falls back to the static config.
func (p *UnifiedProvider) SetPinnedProfile(ctx context.Context, prof *lod.Profile) error {
	return p.setProfile(ctx, KeyPinnedProfile, prof)
}

// SetMaxProfile stores the adaptive ceiling. Nil clears it.
func (p *UnifiedProvider) SetMaxProfile(ctx context.Context, prof *lod.Profile) error {
	return p.setProfile(ctx, KeyMaxProfile, prof)
}

func (p *UnifiedProvider) TerrainURL(ctx context.Context) string {
	return p.getString(ctx, KeyTerrainURL, p.base.Terrain.URL)
}

func (p *UnifiedProvider) ActiveTheme(ctx context.Context) string {
	return p.getString(ctx, KeyActiveTheme, p.base.Theme.Name)
}

// HistoryLimit is the default number of switch records the API returns.
func (p *UnifiedProvider) HistoryLimit(ctx context.Context) int {
	return p.getInt(ctx, KeyHistoryLimit, 100)
}

func (p *UnifiedProvider) MaintenanceInterval(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyMaintenanceInterval, p.base.Maintenance.MinInterval.D())
}

// --- Helpers ---

func (p *UnifiedProvider) getProfile(ctx context.Context, key, fallback string) (lod.Profile, bool) {
	val := p.getString(ctx, key, fallback)
	if val == "" {
		return lod.Global, false
	}
	prof, err := lod.ParseProfile(val)
	if err != nil {
		slog.Warn("Ignoring invalid profile override", "key", key, "value", val)
		return lod.Global, false
	}
	return prof, true
}

func (p *UnifiedProvider) setProfile(ctx context.Context, key string, prof *lod.Profile) error {
	if p.store == nil {
		return nil
	}
	if prof == nil {
		return p.store.DeleteState(ctx, key)
	}
	return p.store.SetState(ctx, key, prof.String())
}

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil {
				return dur
			}
		}
	}
	return fallback
}
