// Package lod classifies the camera meters-per-pixel signal into discrete rendering profiles.
package lod

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a discrete rendering configuration, ordered coarsest to finest.
type Profile int

const (
	Global Profile = iota
	Continental
	Regional
	Tactical
)

// Profiles lists all profiles from coarsest to finest.
var Profiles = []Profile{Global, Continental, Regional, Tactical}

var profileNames = map[Profile]string{
	Global:      "global",
	Continental: "continental",
	Regional:    "regional",
	Tactical:    "tactical",
}

func (p Profile) String() string {
	if name, ok := profileNames[p]; ok {
		return name
	}
	return fmt.Sprintf("profile(%d)", int(p))
}

// Valid reports whether p is one of the four known profiles.
func (p Profile) Valid() bool {
	return p >= Global && p <= Tactical
}

// ParseProfile parses a profile name (case-insensitive).
func ParseProfile(s string) (Profile, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for p, name := range profileNames {
		if name == needle {
			return p, nil
		}
	}
	return Global, fmt.Errorf("unknown lod profile %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Profile) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid lod profile %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Profile) UnmarshalText(b []byte) error {
	parsed, err := ParseProfile(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Profile) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return p.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler.
func (p Profile) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}
