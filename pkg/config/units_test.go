package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"180ms", 180 * time.Millisecond, false},
		{"1.2s", 1200 * time.Millisecond, false},
		{"1.5h", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 168 * time.Hour, false},
		{"2d2h", 50 * time.Hour, false},
		{"", 0, false},
		{"invalid", 0, true},
		{"3q", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, got, tt.input)
	}
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"100m", 100, false},
		{"1.5km", 1500, false},
		{"1nm", 1852, false},
		{"1000ft", 304.8, false},
		{"500", 500, false},
		{"10x", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDistance(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.InDelta(t, tt.expected, got, 1e-9, tt.input)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	type block struct {
		Time   Duration `yaml:"time"`
		Dist   Distance `yaml:"dist"`
		Height Distance `yaml:"height"`
		Bare   Distance `yaml:"bare"`
	}

	var cfg block
	require.NoError(t, yaml.Unmarshal([]byte("time: 2d\ndist: 5km\nheight: 2500km\nbare: 750\n"), &cfg))

	assert.Equal(t, 48*time.Hour, cfg.Time.D())
	assert.Equal(t, Distance(5000), cfg.Dist)
	assert.Equal(t, Distance(2_500_000), cfg.Height)
	assert.Equal(t, Distance(750), cfg.Bare)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "height: 2500km")
	assert.Contains(t, string(out), "bare: 750m")

	var back block
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg, back)
}
