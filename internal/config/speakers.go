package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

// DefaultPollingIntervalMs is used when a speaker enables polling without an interval.
const DefaultPollingIntervalMs = 5000

// SpeakerConfig is the static per-speaker configuration. It is immutable for
// the lifetime of one session; a reload replaces the session.
type SpeakerConfig struct {
	Name              string           `yaml:"name" toml:"name" json:"name"`
	IP                string           `yaml:"ip" toml:"ip" json:"ip"`
	Model             string           `yaml:"model" toml:"model" json:"model"`
	RestorePowerState bool             `yaml:"restorePowerState" toml:"restorePowerState" json:"restorePowerState"`
	VolumeLimit       *VolumeLimit     `yaml:"volumeLimit" toml:"volumeLimit" json:"volumeLimit,omitempty"`
	NightMode         *NightModeConfig `yaml:"nightMode" toml:"nightMode" json:"nightMode,omitempty"`
	Polling           *PollingConfig   `yaml:"polling" toml:"polling" json:"polling,omitempty"`
}

type VolumeLimit struct {
	Min int `yaml:"min" toml:"min" json:"min"`
	Max int `yaml:"max" toml:"max" json:"max"`
}

type NightModeConfig struct {
	Enabled   bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	MaxVolume int      `yaml:"maxVolume" toml:"maxVolume" json:"maxVolume"`
	Schedule  Schedule `yaml:"schedule" toml:"schedule" json:"schedule"`
	// Timezone overrides the service TIMEZONE for this speaker.
	Timezone string `yaml:"timezone" toml:"timezone" json:"timezone,omitempty"`
}

// Schedule holds wall-clock HH:MM times.
type Schedule struct {
	Start string `yaml:"start" toml:"start" json:"start"`
	End   string `yaml:"end" toml:"end" json:"end"`
}

type PollingConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
	// Mode is "compare" (default) or "longpoll".
	Mode              string `yaml:"mode" toml:"mode" json:"mode"`
	Interval          int    `yaml:"interval" toml:"interval" json:"interval"`
	IncludeSongStatus bool   `yaml:"includeSongStatus" toml:"includeSongStatus" json:"includeSongStatus"`
	UpdateDisplayName bool   `yaml:"updateDisplayName" toml:"updateDisplayName" json:"updateDisplayName"`
}

type speakersFile struct {
	Speakers []SpeakerConfig `yaml:"speakers" toml:"speakers"`
}

// LoadSpeakers reads the speaker list from a .yaml/.yml or .toml file.
func LoadSpeakers(path string) ([]SpeakerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read speakers config: %w", err)
	}
	return ParseSpeakers(data, filepath.Ext(path))
}

// ParseSpeakers decodes, defaults and validates a speaker list. format is a
// file extension (".yaml", ".yml" or ".toml").
func ParseSpeakers(data []byte, format string) ([]SpeakerConfig, error) {
	var file speakersFile

	switch strings.ToLower(format) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse speakers yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("parse speakers toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported speakers config format %q", format)
	}

	seen := make(map[string]bool, len(file.Speakers))
	for i := range file.Speakers {
		speaker := &file.Speakers[i]
		speaker.ApplyDefaults()
		if err := speaker.Validate(); err != nil {
			return nil, fmt.Errorf("speaker %d (%s): %w", i, speaker.Name, err)
		}
		if seen[speaker.IP] {
			return nil, fmt.Errorf("speaker %d (%s): duplicate ip %s", i, speaker.Name, speaker.IP)
		}
		seen[speaker.IP] = true
	}

	return file.Speakers, nil
}

// ApplyDefaults fills optional polling fields.
func (s *SpeakerConfig) ApplyDefaults() {
	s.Name = strings.TrimSpace(s.Name)
	s.IP = strings.TrimSpace(s.IP)
	if s.Polling != nil {
		if s.Polling.Interval <= 0 {
			s.Polling.Interval = DefaultPollingIntervalMs
		}
		if s.Polling.Mode == "" {
			s.Polling.Mode = "compare"
		}
	}
}

// Validate checks a single speaker entry.
func (s SpeakerConfig) Validate() error {
	var errs []error

	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.IP == "" {
		errs = append(errs, errors.New("ip is required"))
	} else if !validHost(s.IP) {
		errs = append(errs, fmt.Errorf("ip %q is not a valid address", s.IP))
	}
	if _, ok := kef.LookupModel(s.Model); !ok {
		errs = append(errs, fmt.Errorf("unknown model %q", s.Model))
	}

	if s.VolumeLimit != nil {
		if s.VolumeLimit.Min < 0 || s.VolumeLimit.Max > 100 || s.VolumeLimit.Min > s.VolumeLimit.Max {
			errs = append(errs, fmt.Errorf("volumeLimit must satisfy 0 <= min <= max <= 100, got %d..%d",
				s.VolumeLimit.Min, s.VolumeLimit.Max))
		}
	}

	if s.NightMode != nil && s.NightMode.Enabled {
		if s.NightMode.MaxVolume < 0 || s.NightMode.MaxVolume > 100 {
			errs = append(errs, fmt.Errorf("nightMode.maxVolume %d out of range", s.NightMode.MaxVolume))
		}
		if _, _, err := ParseClock(s.NightMode.Schedule.Start); err != nil {
			errs = append(errs, fmt.Errorf("nightMode.schedule.start: %w", err))
		}
		if _, _, err := ParseClock(s.NightMode.Schedule.End); err != nil {
			errs = append(errs, fmt.Errorf("nightMode.schedule.end: %w", err))
		}
		if s.NightMode.Timezone != "" {
			if _, err := time.LoadLocation(s.NightMode.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("nightMode.timezone: %w", err))
			}
		}
	}

	if s.Polling != nil {
		if s.Polling.Interval <= 0 {
			errs = append(errs, errors.New("polling.interval must be positive"))
		}
		if s.Polling.Mode != "compare" && s.Polling.Mode != "longpoll" {
			errs = append(errs, fmt.Errorf("polling.mode %q must be compare or longpoll", s.Polling.Mode))
		}
	}

	return errors.Join(errs...)
}

// NightModeEnabled reports whether a night-mode schedule is configured and on.
func (s SpeakerConfig) NightModeEnabled() bool {
	return s.NightMode != nil && s.NightMode.Enabled
}

// PollingEnabled reports whether background change detection should run.
func (s SpeakerConfig) PollingEnabled() bool {
	return s.Polling != nil && s.Polling.Enabled
}

// PollingInterval returns the configured tick spacing.
func (s SpeakerConfig) PollingInterval() time.Duration {
	if s.Polling == nil || s.Polling.Interval <= 0 {
		return DefaultPollingIntervalMs * time.Millisecond
	}
	return time.Duration(s.Polling.Interval) * time.Millisecond
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time format: %q", value)
	}

	if _, err = fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, 0, fmt.Errorf("invalid hour: %w", err)
	}
	if _, err = fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid minute: %w", err)
	}

	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute out of range: %d", minute)
	}

	return hour, minute, nil
}

// validHost accepts an IP address, optionally with a port.
func validHost(value string) bool {
	host := value
	if h, _, err := net.SplitHostPort(value); err == nil {
		host = h
	}
	return net.ParseIP(host) != nil
}
