package controller

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration holds the tunables of the override controller.
type Configuration struct {
	ManualDuration   time.Duration
	AwayDuration     time.Duration
	BoostDuration    time.Duration
	AwayTemperature  float64
	BoostTemperature float64
	FrostTemperature float64
	WarmupPerDegree  time.Duration // estimated warm-up time per missing degree
	Indefinite       bool          // keep renewing manual overrides until explicitly cleared
	PollInterval     time.Duration
	Rooms            map[string]RoomSettings // per-room overrides, keyed by room name
}

// RoomSettings overrides controller defaults for a single room. Zero values
// fall back to the Configuration defaults.
type RoomSettings struct {
	WarmupPerDegree  time.Duration `yaml:"warmupPerDegree"`
	FrostTemperature float64       `yaml:"frostTemperature"`
}

// LoadRoomSettings reads per-room settings from a yaml document:
//
//	rooms:
//	  - name: "Living room"
//	    warmupPerDegree: 15m
//	    frostTemperature: 9
func LoadRoomSettings(r io.Reader) (map[string]RoomSettings, error) {
	var doc struct {
		Rooms []struct {
			Name         string `yaml:"name"`
			RoomSettings `yaml:",inline"`
		} `yaml:"rooms"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid room settings: %w", err)
	}
	settings := make(map[string]RoomSettings, len(doc.Rooms))
	for _, room := range doc.Rooms {
		settings[room.Name] = room.RoomSettings
	}
	return settings, nil
}

func DefaultConfiguration() Configuration {
	return Configuration{
		ManualDuration:   5 * time.Minute,
		AwayDuration:     24 * time.Hour,
		BoostDuration:    30 * time.Minute,
		AwayTemperature:  16,
		BoostTemperature: 30,
		FrostTemperature: 7,
		WarmupPerDegree:  10 * time.Minute,
		PollInterval:     2 * time.Minute,
	}
}

func (c Configuration) Validate() error {
	if c.ManualDuration < time.Minute || c.ManualDuration > 720*time.Minute {
		return fmt.Errorf("manual duration %s out of range [1m,720m]", c.ManualDuration)
	}
	if c.AwayDuration < time.Minute || c.AwayDuration > 10080*time.Minute {
		return fmt.Errorf("away duration %s out of range [1m,10080m]", c.AwayDuration)
	}
	if c.BoostDuration < time.Minute || c.BoostDuration > 720*time.Minute {
		return fmt.Errorf("boost duration %s out of range [1m,720m]", c.BoostDuration)
	}
	if c.AwayTemperature < 5 || c.AwayTemperature > 30 {
		return fmt.Errorf("away temperature %.1f out of range [5,30]", c.AwayTemperature)
	}
	if c.BoostTemperature < 5 || c.BoostTemperature > 30 {
		return fmt.Errorf("boost temperature %.1f out of range [5,30]", c.BoostTemperature)
	}
	return nil
}

// warmupPerDegree returns the warm-up rate for a room.
func (c Configuration) warmupPerDegree(room string) time.Duration {
	if s, ok := c.Rooms[room]; ok && s.WarmupPerDegree > 0 {
		return s.WarmupPerDegree
	}
	return c.WarmupPerDegree
}

// frostTemperature returns the frost-protection floor for a room.
func (c Configuration) frostTemperature(room string) float64 {
	if s, ok := c.Rooms[room]; ok && s.FrostTemperature > 0 {
		return s.FrostTemperature
	}
	return c.FrostTemperature
}

// duration returns the configured default duration for an override kind.
func (c Configuration) duration(kind Kind) time.Duration {
	switch kind {
	case Away:
		return c.AwayDuration
	case Boost:
		return c.BoostDuration
	default:
		return c.ManualDuration
	}
}

// temperature returns the configured default temperature for an override
// kind. Manual overrides have no default: the caller supplies one.
func (c Configuration) temperature(kind Kind) (float64, bool) {
	switch kind {
	case Away:
		return c.AwayTemperature, true
	case Boost:
		return c.BoostTemperature, true
	default:
		return 0, false
	}
}
