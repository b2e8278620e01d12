package speakers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/kef/keftest"
)

func newTestRegistry(t *testing.T) (*Registry, *recorder) {
	t.Helper()
	registry := NewRegistry(testOptions(nil))
	t.Cleanup(registry.Close)
	rec := &recorder{}
	registry.AddListener(rec)
	return registry, rec
}

func TestRegistry_AddGetRemove(t *testing.T) {
	registry, rec := newTestRegistry(t)
	speaker := keftest.NewSpeaker(t)

	session, err := registry.Add(context.Background(), speakerConfig(speaker))
	require.NoError(t, err)
	assert.Equal(t, StateActive, session.State())
	assert.NotEmpty(t, rec.all())

	got, err := registry.Get(speaker.Host())
	require.NoError(t, err)
	assert.Same(t, session, got)

	_, err = registry.Add(context.Background(), speakerConfig(speaker))
	require.ErrorIs(t, err, ErrSpeakerExists)

	require.NoError(t, registry.Remove(speaker.Host()))
	assert.Equal(t, StateTerminated, session.State())

	_, err = registry.Get(speaker.Host())
	require.ErrorIs(t, err, ErrSpeakerNotFound)
	require.ErrorIs(t, registry.Remove(speaker.Host()), ErrSpeakerNotFound)
}

func TestRegistry_AddUnreachableStillRegisters(t *testing.T) {
	registry, _ := newTestRegistry(t)
	speaker := keftest.NewSpeaker(t)
	speaker.SetDown(true)

	session, err := registry.Add(context.Background(), speakerConfig(speaker))
	require.Error(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, StateUninitialized, session.State())
}

func TestRegistry_AddRejectsBadNightSchedule(t *testing.T) {
	registry, _ := newTestRegistry(t)
	speaker := keftest.NewSpeaker(t)

	cfg := speakerConfig(speaker)
	cfg.NightMode = &config.NightModeConfig{
		Enabled:   true,
		MaxVolume: 30,
		Schedule:  config.Schedule{Start: "25:00", End: "07:00"},
	}
	session, err := registry.Add(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_ListSortedByName(t *testing.T) {
	registry, _ := newTestRegistry(t)
	kitchen := keftest.NewSpeaker(t)
	bedroom := keftest.NewSpeaker(t)

	cfg := speakerConfig(kitchen)
	cfg.Name = "Kitchen"
	_, err := registry.Add(context.Background(), cfg)
	require.NoError(t, err)

	cfg = speakerConfig(bedroom)
	cfg.Name = "Bedroom"
	_, err = registry.Add(context.Background(), cfg)
	require.NoError(t, err)

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Bedroom", list[0].Config().Name)
	assert.Equal(t, "Kitchen", list[1].Config().Name)
}

func TestRegistry_Reload(t *testing.T) {
	registry, _ := newTestRegistry(t)
	var hooked []ReloadResult
	registry.OnReload(func(r ReloadResult) { hooked = append(hooked, r) })
	keep := keftest.NewSpeaker(t)
	change := keftest.NewSpeaker(t)
	drop := keftest.NewSpeaker(t)
	add := keftest.NewSpeaker(t)

	for _, speaker := range []*keftest.Speaker{keep, change, drop} {
		_, err := registry.Add(context.Background(), speakerConfig(speaker))
		require.NoError(t, err)
	}
	oldChanged, err := registry.Get(change.Host())
	require.NoError(t, err)
	dropped, err := registry.Get(drop.Host())
	require.NoError(t, err)

	changedCfg := speakerConfig(change)
	changedCfg.VolumeLimit = &config.VolumeLimit{Min: 0, Max: 40}

	result, err := registry.Reload(context.Background(), []config.SpeakerConfig{
		speakerConfig(keep),
		changedCfg,
		speakerConfig(add),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{add.Host()}, result.Added)
	assert.Equal(t, []string{drop.Host()}, result.Removed)
	assert.Equal(t, []string{change.Host()}, result.Restarted)
	assert.Equal(t, []string{keep.Host()}, result.Unchanged)
	require.Len(t, hooked, 1)
	assert.Equal(t, result, hooked[0])

	assert.Equal(t, StateTerminated, oldChanged.State())
	assert.Equal(t, StateTerminated, dropped.State())

	replacement, err := registry.Get(change.Host())
	require.NoError(t, err)
	assert.NotSame(t, oldChanged, replacement)
	assert.Equal(t, StateActive, replacement.State())
	assert.Equal(t, 40, replacement.Policy().Limits().Max)

	added, err := registry.Get(add.Host())
	require.NoError(t, err)
	assert.Equal(t, StateActive, added.State())
	assert.Equal(t, 3, registry.Len())
}

func TestRegistry_ReloadRejectsBadModel(t *testing.T) {
	registry, _ := newTestRegistry(t)
	speaker := keftest.NewSpeaker(t)

	cfg := speakerConfig(speaker)
	cfg.Model = "LS50"
	_, err := registry.Reload(context.Background(), []config.SpeakerConfig{cfg})
	require.Error(t, err)
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_CloseTerminatesAll(t *testing.T) {
	registry := NewRegistry(testOptions(nil))
	speaker := keftest.NewSpeaker(t)

	session, err := registry.Add(context.Background(), withPolling(speakerConfig(speaker), "compare"))
	require.NoError(t, err)

	registry.Close()
	assert.Equal(t, StateTerminated, session.State())
	assert.Equal(t, 0, registry.Len())
}
