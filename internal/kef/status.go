package kef

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Power is the speaker's power state as reported on the speakerStatus path.
type Power string

const (
	PowerOn      Power = "powerOn"
	PowerStandby Power = "standby"
)

// DefaultSource is the source assumed before the first successful fetch.
const DefaultSource = "wifi"

// SongInfo is now-playing metadata. Every field is optional; empty means the
// speaker did not report it.
type SongInfo struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	CoverURL string `json:"coverUrl,omitempty"`
}

// IsZero reports whether no metadata field is populated.
func (s SongInfo) IsZero() bool {
	return s == SongInfo{}
}

// DisplayName renders "title - artist", or just the title when the artist is
// unknown. It is empty when there is no title.
func (s SongInfo) DisplayName() string {
	if s.Title == "" {
		return ""
	}
	if s.Artist == "" {
		return s.Title
	}
	return s.Title + " - " + s.Artist
}

// SpeakerStatus is the full known state of one speaker.
type SpeakerStatus struct {
	Power        Power     `json:"power"`
	Source       string    `json:"source"`
	Volume       int       `json:"volume"`
	Muted        bool      `json:"muted"`
	IsPlaying    bool      `json:"isPlaying"`
	SongInfo     *SongInfo `json:"songInfo,omitempty"`
	SongLength   *int      `json:"songLength,omitempty"`
	SongProgress *int64    `json:"songProgress,omitempty"`
}

// StatusGroup is a set of snapshot fields filled by one sub-read.
type StatusGroup uint8

const (
	GroupPower StatusGroup = 1 << iota
	GroupSource
	// GroupVolume covers Volume and Muted.
	GroupVolume
	// GroupPlayer covers IsPlaying, SongInfo and SongLength.
	GroupPlayer
	GroupProgress
)

func (g StatusGroup) Has(group StatusGroup) bool {
	return g&group != 0
}

// StatusRead is a complete status read and the groups whose sub-read failed.
// Failed groups hold defaults in Status.
type StatusRead struct {
	Status SpeakerStatus
	Failed StatusGroup
}

// Over returns the read status with every failed group taken from base.
func (r StatusRead) Over(base SpeakerStatus) SpeakerStatus {
	status := r.Status
	if r.Failed.Has(GroupPower) {
		status.Power = base.Power
	}
	if r.Failed.Has(GroupSource) {
		status.Source = base.Source
	}
	if r.Failed.Has(GroupVolume) {
		status.Volume = base.Volume
		status.Muted = base.Muted
	}
	if r.Failed.Has(GroupPlayer) {
		status.IsPlaying = base.IsPlaying
		status.SongInfo = base.SongInfo
		status.SongLength = base.SongLength
	}
	if r.Failed.Has(GroupProgress) {
		status.SongProgress = base.SongProgress
	}
	return status
}

// DefaultStatus returns the snapshot used before anything has been fetched.
func DefaultStatus() SpeakerStatus {
	return SpeakerStatus{
		Power:  PowerStandby,
		Source: DefaultSource,
	}
}

// Apply returns a copy of s with every field present in change written over it.
// An empty SongInfo, or a zero SongLength/SongProgress, clears that field.
func (s SpeakerStatus) Apply(change SpeakerChange) SpeakerStatus {
	if change.Power != nil {
		s.Power = *change.Power
	}
	if change.Source != nil {
		s.Source = *change.Source
	}
	if change.Volume != nil {
		s.Volume = *change.Volume
	}
	if change.Muted != nil {
		s.Muted = *change.Muted
	}
	if change.IsPlaying != nil {
		s.IsPlaying = *change.IsPlaying
	}
	if change.SongInfo != nil {
		if change.SongInfo.IsZero() {
			s.SongInfo = nil
		} else {
			info := *change.SongInfo
			s.SongInfo = &info
		}
	}
	if change.SongLength != nil {
		if *change.SongLength == 0 {
			s.SongLength = nil
		} else {
			length := *change.SongLength
			s.SongLength = &length
		}
	}
	if change.SongProgress != nil {
		if *change.SongProgress == 0 {
			s.SongProgress = nil
		} else {
			progress := *change.SongProgress
			s.SongProgress = &progress
		}
	}
	return s
}

// SpeakerChange is a sparse patch: a nil field did not change. Name is only
// ever set from a long-poll deviceName event.
type SpeakerChange struct {
	Power        *Power    `json:"power,omitempty"`
	Source       *string   `json:"source,omitempty"`
	Volume       *int      `json:"volume,omitempty"`
	Muted        *bool     `json:"muted,omitempty"`
	IsPlaying    *bool     `json:"isPlaying,omitempty"`
	SongInfo     *SongInfo `json:"songInfo,omitempty"`
	SongLength   *int      `json:"songLength,omitempty"`
	SongProgress *int64    `json:"songProgress,omitempty"`
	Name         *string   `json:"name,omitempty"`
}

// IsEmpty reports whether the change carries no fields.
func (c SpeakerChange) IsEmpty() bool {
	return len(c.Fields()) == 0
}

// Fields lists the names of the populated fields in a stable order.
func (c SpeakerChange) Fields() []string {
	fields := make([]string, 0, 9)
	if c.Power != nil {
		fields = append(fields, "power")
	}
	if c.Source != nil {
		fields = append(fields, "source")
	}
	if c.Volume != nil {
		fields = append(fields, "volume")
	}
	if c.Muted != nil {
		fields = append(fields, "muted")
	}
	if c.IsPlaying != nil {
		fields = append(fields, "isPlaying")
	}
	if c.SongInfo != nil {
		fields = append(fields, "songInfo")
	}
	if c.SongLength != nil {
		fields = append(fields, "songLength")
	}
	if c.SongProgress != nil {
		fields = append(fields, "songProgress")
	}
	if c.Name != nil {
		fields = append(fields, "name")
	}
	return fields
}

// Merge overlays other onto c; fields present in other win.
func (c SpeakerChange) Merge(other SpeakerChange) SpeakerChange {
	if other.Power != nil {
		c.Power = other.Power
	}
	if other.Source != nil {
		c.Source = other.Source
	}
	if other.Volume != nil {
		c.Volume = other.Volume
	}
	if other.Muted != nil {
		c.Muted = other.Muted
	}
	if other.IsPlaying != nil {
		c.IsPlaying = other.IsPlaying
	}
	if other.SongInfo != nil {
		c.SongInfo = other.SongInfo
	}
	if other.SongLength != nil {
		c.SongLength = other.SongLength
	}
	if other.SongProgress != nil {
		c.SongProgress = other.SongProgress
	}
	if other.Name != nil {
		c.Name = other.Name
	}
	return c
}

// Describe renders one "field old -> new" line per populated field, using
// prev for the old values. Used for per-field change logging.
func (c SpeakerChange) Describe(prev SpeakerStatus) []string {
	lines := make([]string, 0, 4)
	if c.Power != nil {
		lines = append(lines, fmt.Sprintf("power %s -> %s", prev.Power, *c.Power))
	}
	if c.Source != nil {
		lines = append(lines, fmt.Sprintf("source %s -> %s", prev.Source, *c.Source))
	}
	if c.Volume != nil {
		lines = append(lines, fmt.Sprintf("volume %d -> %d", prev.Volume, *c.Volume))
	}
	if c.Muted != nil {
		lines = append(lines, fmt.Sprintf("muted %t -> %t", prev.Muted, *c.Muted))
	}
	if c.IsPlaying != nil {
		lines = append(lines, fmt.Sprintf("playing %t -> %t", prev.IsPlaying, *c.IsPlaying))
	}
	if c.SongInfo != nil {
		before := ""
		if prev.SongInfo != nil {
			before = prev.SongInfo.DisplayName()
		}
		lines = append(lines, fmt.Sprintf("song %q -> %q", before, c.SongInfo.DisplayName()))
	}
	if c.SongLength != nil {
		lines = append(lines, fmt.Sprintf("length %s -> %d", optionalInt(prev.SongLength), *c.SongLength))
	}
	if c.SongProgress != nil {
		before := "-"
		if prev.SongProgress != nil {
			before = fmt.Sprint(*prev.SongProgress)
		}
		lines = append(lines, fmt.Sprintf("progress %s -> %d", before, *c.SongProgress))
	}
	if c.Name != nil {
		lines = append(lines, fmt.Sprintf("name -> %s", *c.Name))
	}
	return lines
}

func (c SpeakerChange) String() string {
	return "{" + strings.Join(c.Fields(), ",") + "}"
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

// PlayerData is the player:player/data document. Only the fields the bridge
// projects are decoded.
type PlayerData struct {
	State      string     `json:"state"`
	TrackRoles trackRoles `json:"trackRoles"`
	Status     playStatus `json:"status"`
}

type trackRoles struct {
	Title     string    `json:"title"`
	Icon      string    `json:"icon"`
	MediaData mediaData `json:"mediaData"`
}

type mediaData struct {
	MetaData metaData `json:"metaData"`
}

type metaData struct {
	Artist string `json:"artist"`
	Album  string `json:"album"`
}

type playStatus struct {
	Duration *int `json:"duration"`
}

// ParsePlayerData decodes the document; anything undecodable yields an empty
// document rather than an error.
func ParsePlayerData(raw json.RawMessage) PlayerData {
	var data PlayerData
	if len(raw) == 0 {
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return PlayerData{}
	}
	return data
}

// SongInfo projects the now-playing metadata, or nil when none is reported.
func (p PlayerData) SongInfo() *SongInfo {
	info := SongInfo{
		Title:    p.TrackRoles.Title,
		Artist:   p.TrackRoles.MediaData.MetaData.Artist,
		Album:    p.TrackRoles.MediaData.MetaData.Album,
		CoverURL: p.TrackRoles.Icon,
	}
	if info.IsZero() {
		return nil
	}
	return &info
}

// Playing reports whether the player state is "playing".
func (p PlayerData) Playing() bool {
	return p.State == "playing"
}

// Duration is the track length in milliseconds, if reported.
func (p PlayerData) Duration() *int {
	if p.Status.Duration == nil {
		return nil
	}
	duration := *p.Status.Duration
	return &duration
}
