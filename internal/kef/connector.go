package kef

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/strefethen/kef-hub-go/internal/kef/rpc"
)

const (
	// DefaultName is reported when the speaker has no device name.
	DefaultName = "KEF Speaker"
	// Unknown fills a missing model or firmware segment of the release text.
	Unknown = "Unknown"
)

// Playback control commands accepted by player:player/control.
const (
	controlPause    = "pause"
	controlNext     = "next"
	controlPrevious = "previous"
)

// ErrUnreachable is wrapped by GetCompleteStatus when no sub-read succeeded.
var ErrUnreachable = errors.New("speaker unreachable")

// Connector exposes semantic operations over one speaker's API.
//
// Reads return the type default alongside any transport error so callers that
// only need something to display can ignore the error. A response missing the
// expected field is not an error.
type Connector struct {
	client *rpc.Client
	logger *log.Logger
}

// NewConnector wraps client. A nil logger uses log.Default().
func NewConnector(client *rpc.Client, logger *log.Logger) *Connector {
	if logger == nil {
		logger = log.Default()
	}
	return &Connector{client: client, logger: logger}
}

// Host returns the speaker address.
func (c *Connector) Host() string {
	return c.client.Host()
}

// Client exposes the underlying transport for the long-poll subscriber.
func (c *Connector) Client() *rpc.Client {
	return c.client
}

// ==========================================================================
// Power
// ==========================================================================

// PowerOn wakes the speaker. Power is modelled by the device as a special
// physical source, so this is a source write.
func (c *Connector) PowerOn(ctx context.Context) error {
	return c.SetSource(ctx, string(PowerOn))
}

// Shutdown puts the speaker in standby by selecting the "standby" source.
func (c *Connector) Shutdown(ctx context.Context) error {
	return c.SetSource(ctx, string(PowerStandby))
}

// GetStatus reads the speakerStatus path.
func (c *Connector) GetStatus(ctx context.Context) (Power, error) {
	value, err := c.client.GetValue(ctx, rpc.PathSpeakerStatus)
	if err != nil {
		return PowerStandby, err
	}
	status, ok := value.Status()
	if !ok {
		return PowerStandby, nil
	}
	return Power(status), nil
}

// SetStatus writes the speakerStatus path.
func (c *Connector) SetStatus(ctx context.Context, status Power) error {
	return c.client.SetData(ctx, rpc.PathSpeakerStatus, rpc.RoleValue, rpc.SpeakerStatusValue(string(status)))
}

// ==========================================================================
// Volume
// ==========================================================================

// GetVolume reads player:volume.
func (c *Connector) GetVolume(ctx context.Context) (int, error) {
	value, err := c.client.GetValue(ctx, rpc.PathVolume)
	if err != nil {
		return 0, err
	}
	volume, _ := value.Int()
	return volume, nil
}

// SetVolume writes player:volume as-is. Limits are applied by the policy layer.
func (c *Connector) SetVolume(ctx context.Context, volume int) error {
	return c.client.SetData(ctx, rpc.PathVolume, rpc.RoleValue, rpc.I32(volume))
}

// Mute sets the volume to zero.
func (c *Connector) Mute(ctx context.Context) error {
	return c.SetVolume(ctx, 0)
}

// Unmute restores previous. The connector keeps no memory of it.
func (c *Connector) Unmute(ctx context.Context, previous int) error {
	return c.SetVolume(ctx, previous)
}

// ==========================================================================
// Source
// ==========================================================================

// GetSource reads the physical source tag.
func (c *Connector) GetSource(ctx context.Context) (string, error) {
	value, err := c.client.GetValue(ctx, rpc.PathPhysicalSource)
	if err != nil {
		return string(PowerStandby), err
	}
	source, ok := value.Source()
	if !ok {
		return string(PowerStandby), nil
	}
	return source, nil
}

// SetSource selects a physical source.
func (c *Connector) SetSource(ctx context.Context, source string) error {
	return c.client.SetData(ctx, rpc.PathPhysicalSource, rpc.RoleValue, rpc.PhysicalSource(source))
}

// ==========================================================================
// Playback
// ==========================================================================

// TogglePlayPause sends the pause control, which the speaker treats as a toggle.
func (c *Connector) TogglePlayPause(ctx context.Context) error {
	return c.control(ctx, controlPause)
}

// NextTrack skips to the next track.
func (c *Connector) NextTrack(ctx context.Context) error {
	return c.control(ctx, controlNext)
}

// PreviousTrack returns to the previous track.
func (c *Connector) PreviousTrack(ctx context.Context) error {
	return c.control(ctx, controlPrevious)
}

func (c *Connector) control(ctx context.Context, command string) error {
	return c.client.SetData(ctx, rpc.PathPlayerControl, rpc.RoleActivate, map[string]string{"control": command})
}

// ==========================================================================
// Now playing
// ==========================================================================

// GetPlayerData reads the composite player document once. Use its projection
// methods when more than one field is needed.
func (c *Connector) GetPlayerData(ctx context.Context) (PlayerData, error) {
	raw, err := c.client.GetData(ctx, rpc.PathPlayerData)
	if err != nil {
		return PlayerData{}, err
	}
	return ParsePlayerData(raw), nil
}

// GetSongInformation returns the current track, nil when nothing is loaded.
func (c *Connector) GetSongInformation(ctx context.Context) (*SongInfo, error) {
	data, err := c.GetPlayerData(ctx)
	if err != nil {
		return nil, err
	}
	return data.SongInfo(), nil
}

// IsPlaying reports whether the player state is "playing".
func (c *Connector) IsPlaying(ctx context.Context) (bool, error) {
	data, err := c.GetPlayerData(ctx)
	if err != nil {
		return false, err
	}
	return data.Playing(), nil
}

// GetSongLength returns the track duration in ms, nil when not reported.
func (c *Connector) GetSongLength(ctx context.Context) (*int, error) {
	data, err := c.GetPlayerData(ctx)
	if err != nil {
		return nil, err
	}
	return data.Duration(), nil
}

// GetSongProgress reads the play position in ms.
func (c *Connector) GetSongProgress(ctx context.Context) (int64, error) {
	value, err := c.client.GetValue(ctx, rpc.PathPlayTime)
	if err != nil {
		return 0, err
	}
	progress, _ := value.Int64()
	return progress, nil
}

// ==========================================================================
// Identity
// ==========================================================================

// GetSpeakerName reads the user-assigned name, DefaultName when unset.
func (c *Connector) GetSpeakerName(ctx context.Context) (string, error) {
	value, err := c.client.GetValue(ctx, rpc.PathDeviceName)
	if err != nil {
		return DefaultName, err
	}
	name, ok := value.Str()
	if !ok || name == "" {
		return DefaultName, nil
	}
	return name, nil
}

// GetMacAddress reads the primary MAC address.
func (c *Connector) GetMacAddress(ctx context.Context) (string, error) {
	value, err := c.client.GetValue(ctx, rpc.PathMacAddress)
	if err != nil {
		return "", err
	}
	mac, _ := value.Str()
	return mac, nil
}

// GetSpeakerModel returns the model parsed from the release text.
func (c *Connector) GetSpeakerModel(ctx context.Context) (string, error) {
	release, err := c.releaseText(ctx)
	model, _ := ParseReleaseText(release)
	return model, err
}

// GetFirmwareVersion returns the firmware version parsed from the release text.
func (c *Connector) GetFirmwareVersion(ctx context.Context) (string, error) {
	release, err := c.releaseText(ctx)
	_, firmware := ParseReleaseText(release)
	return firmware, err
}

func (c *Connector) releaseText(ctx context.Context) (string, error) {
	value, err := c.client.GetValue(ctx, rpc.PathReleaseText)
	if err != nil {
		return "", err
	}
	text, _ := value.Str()
	return text, nil
}

// ParseReleaseText splits MODEL_FIRMWARE. A missing segment is Unknown.
func ParseReleaseText(release string) (model, firmware string) {
	parts := strings.Split(release, "_")
	model, firmware = Unknown, Unknown
	if len(parts) > 0 && parts[0] != "" {
		model = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		firmware = parts[1]
	}
	return model, firmware
}

// DeviceInfo collects the one-shot identity reads.
type DeviceInfo struct {
	Name       string `json:"name"`
	MacAddress string `json:"macAddress"`
	Model      string `json:"model"`
	Firmware   string `json:"firmware"`
}

// GetDeviceInfo reads name, MAC and release text, fetching the release text
// once for both model and firmware. The first error is returned with the
// best-effort info.
func (c *Connector) GetDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	var errs []error

	name, err := c.GetSpeakerName(ctx)
	info.Name = name
	if err != nil {
		errs = append(errs, err)
	}

	mac, err := c.GetMacAddress(ctx)
	info.MacAddress = mac
	if err != nil {
		errs = append(errs, err)
	}

	release, err := c.releaseText(ctx)
	info.Model, info.Firmware = ParseReleaseText(release)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return info, errs[0]
	}
	return info, nil
}

// ==========================================================================
// Complete status
// ==========================================================================

// StatusOptions tunes GetCompleteStatus.
type StatusOptions struct {
	IncludeSongProgress bool
}

// GetCompleteStatus reads power, source, volume and player data in parallel.
// A failed sub-read leaves only its own fields at their defaults. An error is
// returned only when every core read failed, meaning the speaker is
// unreachable.
func (c *Connector) GetCompleteStatus(ctx context.Context, opts StatusOptions) (SpeakerStatus, error) {
	read, err := c.FetchStatus(ctx, opts)
	return read.Status, err
}

// FetchStatus is GetCompleteStatus that also reports which sub-reads failed,
// so a caller holding an earlier snapshot can keep those fields.
func (c *Connector) FetchStatus(ctx context.Context, opts StatusOptions) (StatusRead, error) {
	status := DefaultStatus()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error
	var failed StatusGroup
	succeeded := 0

	record := func(group StatusGroup, field string, err error) bool {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed |= group
			failures = append(failures, fmt.Errorf("%s: %w", field, err))
			return false
		}
		if group != GroupProgress {
			succeeded++
		}
		return true
	}

	wg.Add(4)

	go func() {
		defer wg.Done()
		power, err := c.GetStatus(ctx)
		if record(GroupPower, "power", err) {
			mu.Lock()
			status.Power = power
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		source, err := c.GetSource(ctx)
		if record(GroupSource, "source", err) {
			mu.Lock()
			status.Source = source
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		volume, err := c.GetVolume(ctx)
		if record(GroupVolume, "volume", err) {
			mu.Lock()
			status.Volume = volume
			status.Muted = volume == 0
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		data, err := c.GetPlayerData(ctx)
		if record(GroupPlayer, "player data", err) {
			mu.Lock()
			status.IsPlaying = data.Playing()
			status.SongInfo = data.SongInfo()
			status.SongLength = data.Duration()
			mu.Unlock()
		}
	}()

	if opts.IncludeSongProgress {
		wg.Add(1)
		go func() {
			defer wg.Done()
			progress, err := c.GetSongProgress(ctx)
			if record(GroupProgress, "song progress", err) && progress > 0 {
				mu.Lock()
				status.SongProgress = &progress
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	read := StatusRead{Status: status, Failed: failed}
	if succeeded == 0 {
		return read, fmt.Errorf("%w: %s: %w", ErrUnreachable, c.Host(), errors.Join(failures...))
	}
	if len(failures) > 0 {
		c.logger.Printf("KEF: %s partial status read: %v", c.Host(), errors.Join(failures...))
	}
	return read, nil
}
