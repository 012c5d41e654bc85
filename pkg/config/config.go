package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"globelod/pkg/lod"
)

// Config holds the application configuration.
type Config struct {
	LOD         LODConfig         `yaml:"lod"`
	Terrain     TerrainConfig     `yaml:"terrain"`
	Query       QueryConfig       `yaml:"query"`
	Scene       SceneConfig       `yaml:"scene"`
	Theme       ThemeConfig       `yaml:"theme"`
	Profiles    ProfilesConfig    `yaml:"profiles"`
	Request     RequestConfig     `yaml:"request"`
	Log         LogConfig         `yaml:"log"`
	DB          DBConfig          `yaml:"db"`
	Server      ServerConfig      `yaml:"server"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// LODConfig holds the profile state machine settings.
type LODConfig struct {
	Thresholds lod.Thresholds `yaml:"thresholds"`
	Debounce   Duration       `yaml:"debounce"`
	Cooldown   Duration       `yaml:"cooldown"`
	// PinnedProfile and MaxProfile are startup defaults; the state store wins when set.
	PinnedProfile string `yaml:"pinned_profile"`
	MaxProfile    string `yaml:"max_profile"`
}

// TerrainConfig holds the local terrain source settings.
type TerrainConfig struct {
	URL             string   `yaml:"url"`
	FallbackEnabled bool     `yaml:"fallback_enabled"`
	FallbackHeight  Distance `yaml:"fallback_height"`
	LoadTimeout     Duration `yaml:"load_timeout"`
	// GridRows and GridCols describe file:// grids. Zero means ETOPO1.
	GridRows int `yaml:"grid_rows"`
	GridCols int `yaml:"grid_cols"`
	Check    bool `yaml:"check"`
}

// QueryConfig holds the position query settings.
type QueryConfig struct {
	Debounce       Duration `yaml:"debounce"`
	SampleTimeout  Duration `yaml:"sample_timeout"`
	OceanThreshold float64  `yaml:"ocean_threshold"`
}

// SceneConfig holds the home view and the headless scene.
type SceneConfig struct {
	Home     HomeConfig     `yaml:"home"`
	Viewport ViewportConfig `yaml:"viewport"`
	// GlobeFit caps every profile at the height where the globe fills the view.
	GlobeFit   bool     `yaml:"globe_fit"`
	TickRate   Duration `yaml:"tick_rate"`
	Flight     bool     `yaml:"flight"`
	FlightLoop bool     `yaml:"flight_loop"`
}

// HomeConfig is the camera pose used at start and after a terrain fault. Angles are degrees.
type HomeConfig struct {
	Lat     float64  `yaml:"lat"`
	Lon     float64  `yaml:"lon"`
	Height  Distance `yaml:"height"`
	Heading float64  `yaml:"heading"`
	Pitch   float64  `yaml:"pitch"`
}

// ViewportConfig is the drawing surface size.
type ViewportConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FovDeg float64 `yaml:"fov_deg"`
}

// ThemeConfig holds the base style that profile overrides are merged over.
type ThemeConfig struct {
	Name  string             `yaml:"name"`
	Style map[string]float64 `yaml:"style"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries           int           `yaml:"retries"`
	Timeout           Duration      `yaml:"timeout"`
	Backoff           BackoffConfig `yaml:"backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxResponseMB     int           `yaml:"max_response_mb"`
	UserAgent         string        `yaml:"user_agent"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Events   LogSettings `yaml:"events"`
	Trace    bool        `yaml:"trace"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// MaintenanceConfig holds database housekeeping settings.
type MaintenanceConfig struct {
	CacheTTL     Duration `yaml:"cache_ttl"`
	KeepSwitches int      `yaml:"keep_switches"`
	MinInterval  Duration `yaml:"min_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LOD: LODConfig{
			Thresholds: lod.DefaultThresholds(),
			Debounce:   Duration(180 * time.Millisecond),
			Cooldown:   Duration(1200 * time.Millisecond),
		},
		Terrain: TerrainConfig{
			URL:             "",
			FallbackEnabled: true,
			FallbackHeight:  Distance(2_500_000),
			LoadTimeout:     Duration(30 * time.Second),
		},
		Query: QueryConfig{
			Debounce:       Duration(180 * time.Millisecond),
			SampleTimeout:  Duration(10 * time.Second),
			OceanThreshold: -150,
		},
		Scene: SceneConfig{
			Home: HomeConfig{
				Lat:    20,
				Lon:    0,
				Height: Distance(20_000_000),
				Pitch:  -90,
			},
			Viewport: ViewportConfig{Width: 1920, Height: 1080, FovDeg: 60},
			TickRate: Duration(100 * time.Millisecond),
			Flight:   true,
		},
		Theme: ThemeConfig{
			Name: "tactical-dark",
			Style: map[string]float64{
				"brightness": 1.0,
				"contrast":   1.0,
				"saturation": 1.0,
				"gamma":      1.0,
			},
		},
		Profiles: DefaultProfiles(),
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
			RequestsPerSecond: 10,
			Burst:             4,
			MaxResponseMB:     64,
			UserAgent:         "globelod",
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			Events: LogSettings{
				Path:  "./logs/events.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/globelod.db",
		},
		Server: ServerConfig{
			Address: "localhost:1921",
		},
		Maintenance: MaintenanceConfig{
			CacheTTL:     Duration(30 * Day),
			KeepSwitches: 5000,
			MinInterval:  Duration(Day),
		},
	}
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if err := c.LOD.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.LOD.Debounce < 0 || c.LOD.Cooldown < 0 {
		errs = append(errs, errors.New("lod debounce and cooldown must not be negative"))
	}
	for name, v := range map[string]string{"pinned_profile": c.LOD.PinnedProfile, "max_profile": c.LOD.MaxProfile} {
		if v == "" {
			continue
		}
		if _, err := lod.ParseProfile(v); err != nil {
			errs = append(errs, fmt.Errorf("lod.%s: %w", name, err))
		}
	}

	if c.Terrain.FallbackEnabled && !(c.Terrain.FallbackHeight > 0) {
		errs = append(errs, errors.New("terrain.fallback_height must be positive when fallback is enabled"))
	}
	if math.IsNaN(c.Query.OceanThreshold) || math.IsInf(c.Query.OceanThreshold, 0) {
		errs = append(errs, errors.New("query.ocean_threshold must be finite"))
	}
	if c.Scene.Viewport.Width <= 0 || c.Scene.Viewport.Height <= 0 {
		errs = append(errs, fmt.Errorf("scene.viewport must be positive, got %dx%d", c.Scene.Viewport.Width, c.Scene.Viewport.Height))
	}
	if !(c.Scene.Viewport.FovDeg > 0 && c.Scene.Viewport.FovDeg < 180) {
		errs = append(errs, fmt.Errorf("scene.viewport.fov_deg must be in (0,180), got %v", c.Scene.Viewport.FovDeg))
	}

	for _, p := range lod.Profiles {
		if err := c.Profiles.ForProfile(p).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("profiles.%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// Existing files are merged over the defaults and never written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env fallback only; never saved back to disk.
	if cfg.Terrain.URL == "" {
		if url := os.Getenv("GLOBELOD_TERRAIN_URL"); url != "" {
			cfg.Terrain.URL = url
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# globelod Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# Profiles: global, continental, regional, tactical

`)
	data = append(header, data...)

	rePinned := regexp.MustCompile(`(?m)^(\s+)pinned_profile:`)
	data = rePinned.ReplaceAll(data, []byte("${1}# Empty means adaptive\n${1}pinned_profile:"))

	reURL := regexp.MustCompile(`(?m)^(\s+)url:`)
	data = reURL.ReplaceAll(data, []byte("${1}# http(s):// tile service root or file:// ETOPO1 grid, env GLOBELOD_TERRAIN_URL\n${1}url:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
