package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestStatusEvent_JSONOmitsEmpty(t *testing.T) {
	ev := StatusEvent{Type: EventTerrain, Title: "Terrain connected", Timestamp: time.Unix(0, 0).UTC()}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "summary") || strings.Contains(s, "session") {
		t.Errorf("empty fields should be omitted: %s", s)
	}
	if !strings.Contains(s, `"type":"terrain"`) {
		t.Errorf("missing type: %s", s)
	}
}
