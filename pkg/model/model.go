package model

import (
	"time"
)

// TerrainStatus is the coarse state reported for the local terrain source.
type TerrainStatus string

const (
	TerrainConnected TerrainStatus = "connected"
	TerrainFailed    TerrainStatus = "failed"
	TerrainDisabled  TerrainStatus = "disabled"
)

// Event types recorded in the event log.
const (
	EventTerrain = "terrain"
	EventLOD     = "lod"
	EventSafe    = "safe_mode"
)

// StatusEvent is a user-facing status change written to the event log and streamed to clients.
type StatusEvent struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session,omitempty"`
}

// SwitchRecord is one committed LOD profile switch.
type SwitchRecord struct {
	Session   string        `json:"session"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	MPP       float64       `json:"mpp"`
	Duration  time.Duration `json:"duration"`
	Forced    bool          `json:"forced"`
	CreatedAt time.Time     `json:"created_at"`
}
