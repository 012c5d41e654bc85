package store

import (
	"context"

	"globelod/pkg/model"
)

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// SwitchStore persists committed LOD profile switches.
type SwitchStore interface {
	RecordSwitch(ctx context.Context, rec *model.SwitchRecord) error
	// ListSwitches returns the newest records first. An empty session lists all sessions.
	ListSwitches(ctx context.Context, session string, limit int) ([]model.SwitchRecord, error)
}
