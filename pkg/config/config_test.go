package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globelod/pkg/lod"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "globelod.yaml")

	tests := []struct {
		name          string
		setup         func(t *testing.T)
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T, string)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func(t *testing.T) {},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, lod.DefaultThresholds(), cfg.LOD.Thresholds)
				assert.Equal(t, 180*time.Millisecond, cfg.LOD.Debounce.D())
				assert.Equal(t, 1200*time.Millisecond, cfg.LOD.Cooldown.D())
				assert.True(t, cfg.Profiles.Tactical.UseLocalTerrain)
				assert.Equal(t, Distance(18000), cfg.Profiles.Tactical.Camera.MinHeight)
			},
			checkFile: func(t *testing.T, content string) {
				assert.Contains(t, content, "# globelod Configuration")
				assert.Contains(t, content, "debounce: 180ms")
				assert.Contains(t, content, "# Empty means adaptive")
				assert.Contains(t, content, "fallback_height: 2500km")
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func(t *testing.T) {
				data := "lod:\n  cooldown: 2s\n  thresholds:\n    regional: 300\nprofiles:\n  tactical:\n    camera:\n      min_height: 12km\n"
				require.NoError(t, os.WriteFile(configPath, []byte(data), 0o644))
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2*time.Second, cfg.LOD.Cooldown.D())
				assert.Equal(t, 300.0, cfg.LOD.Thresholds.Regional)
				assert.Equal(t, 7000.0, cfg.LOD.Thresholds.Global, "unset keys keep defaults")
				assert.Equal(t, Distance(12000), cfg.Profiles.Tactical.Camera.MinHeight)
			},
			checkFile: func(t *testing.T, content string) {
				assert.NotContains(t, content, "# globelod Configuration", "existing files are not rewritten")
			},
		},
		{
			name: "Terrain_Env_Fallback",
			setup: func(t *testing.T) {
				t.Setenv("GLOBELOD_TERRAIN_URL", "https://dem.example.com/v1/")
				require.NoError(t, os.WriteFile(configPath, []byte("terrain:\n  url: \"\"\n"), 0o644))
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://dem.example.com/v1/", cfg.Terrain.URL)
			},
			checkFile: func(t *testing.T, content string) {
				assert.NotContains(t, content, "dem.example.com", "env values are not persisted")
			},
		},
		{
			name: "Invalid_YAML",
			setup: func(t *testing.T) {
				require.NoError(t, os.WriteFile(configPath, []byte("lod: [not a map]"), 0o644))
			},
			expectedError: true,
		},
		{
			name: "Invalid_Thresholds",
			setup: func(t *testing.T) {
				require.NoError(t, os.WriteFile(configPath, []byte("lod:\n  thresholds:\n    continental: 9000\n"), 0o644))
			},
			expectedError: true,
		},
		{
			name: "Invalid_Pinned_Profile",
			setup: func(t *testing.T) {
				require.NoError(t, os.WriteFile(configPath, []byte("lod:\n  pinned_profile: orbital\n"), 0o644))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(configPath)
			tt.setup(t)

			cfg, err := Load(configPath)
			if tt.expectedError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)

			content, err := os.ReadFile(configPath)
			require.NoError(t, err)
			tt.checkFile(t, string(content))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "negative cooldown", mutate: func(c *Config) { c.LOD.Cooldown = Duration(-time.Second) }},
		{name: "hysteresis too large", mutate: func(c *Config) { c.LOD.Thresholds.Hysteresis = 1 }},
		{name: "fallback without height", mutate: func(c *Config) { c.Terrain.FallbackHeight = 0 }},
		{name: "fallback disabled without height", mutate: func(c *Config) {
			c.Terrain.FallbackEnabled = false
			c.Terrain.FallbackHeight = 0
		}, ok: true},
		{name: "zero viewport", mutate: func(c *Config) { c.Scene.Viewport.Width = 0 }},
		{name: "fov out of range", mutate: func(c *Config) { c.Scene.Viewport.FovDeg = 180 }},
		{name: "inverted pitch", mutate: func(c *Config) {
			c.Profiles.Regional.Camera.PitchMinDeg = -5
			c.Profiles.Regional.Camera.PitchMaxDeg = -30
		}},
		{name: "max below min", mutate: func(c *Config) { c.Profiles.Tactical.Camera.MaxHeight = 1000 }},
		{name: "negative query level", mutate: func(c *Config) {
			lvl := -1
			c.Profiles.Global.QueryLevel = &lvl
		}},
		{name: "valid max profile", mutate: func(c *Config) { c.LOD.MaxProfile = "continental" }, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestProfilesForProfile(t *testing.T) {
	p := DefaultProfiles()

	assert.Equal(t, "globe", p.ForProfile(lod.Global).MaterialPreset)
	assert.Equal(t, "continental", p.ForProfile(lod.Continental).MaterialPreset)
	assert.Equal(t, "hillshade", p.ForProfile(lod.Regional).MaterialPreset)
	assert.Equal(t, "tactical-contour", p.ForProfile(lod.Tactical).MaterialPreset)
	assert.Equal(t, "globe", p.ForProfile(lod.Profile(42)).MaterialPreset)

	require.NotNil(t, p.Global.QueryLevel)
	assert.Equal(t, 4, *p.Global.QueryLevel)
	assert.Nil(t, p.Tactical.QueryLevel)
	assert.True(t, p.Tactical.ObliqueEntry.Enabled)
	assert.False(t, p.Regional.ObliqueEntry.Enabled)
}

func TestGenerateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "default_config.yaml")

	require.NoError(t, GenerateDefault(configPath))
	_, err := os.Stat(configPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  address: :9000\n"), 0o644))
	require.NoError(t, GenerateDefault(configPath), "second run is a no-op")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
}
