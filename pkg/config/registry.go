package config

// Persistent state keys (Registry)
const (
	KeyPinnedProfile       = "lod_pinned_profile"
	KeyMaxProfile          = "lod_max_profile"
	KeyTerrainURL          = "terrain_url"
	KeyActiveTheme         = "active_theme"
	KeyHistoryLimit        = "history_limit"
	KeyMaintenanceInterval = "maintenance_interval"
)
