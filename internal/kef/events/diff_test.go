package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

func ptr[T any](v T) *T {
	return &v
}

func poweredOn(volume int) kef.SpeakerStatus {
	status := kef.DefaultStatus()
	status.Power = kef.PowerOn
	status.Volume = volume
	return status
}

func TestDiff_SingleField(t *testing.T) {
	change := Diff(poweredOn(30), poweredOn(35))

	require.NotNil(t, change.Volume)
	assert.Equal(t, 35, *change.Volume)
	assert.Equal(t, []string{"volume"}, change.Fields())
}

func TestDiff_Identical(t *testing.T) {
	status := poweredOn(30)
	status.SongInfo = &kef.SongInfo{Title: "Same"}
	status.SongLength = ptr(1000)

	other := poweredOn(30)
	other.SongInfo = &kef.SongInfo{Title: "Same"}
	other.SongLength = ptr(1000)

	assert.True(t, Diff(status, other).IsEmpty())
}

func TestDiff_EverythingChanged(t *testing.T) {
	prev := kef.DefaultStatus()
	next := kef.SpeakerStatus{
		Power:        kef.PowerOn,
		Source:       "tv",
		Volume:       10,
		Muted:        true,
		IsPlaying:    true,
		SongInfo:     &kef.SongInfo{Title: "T"},
		SongLength:   ptr(100),
		SongProgress: ptr(int64(5)),
	}

	change := Diff(prev, next)
	assert.Equal(t, []string{
		"power", "source", "volume", "muted", "isPlaying", "songInfo", "songLength", "songProgress",
	}, change.Fields())
	assert.Equal(t, next, prev.Apply(change))
}

func TestDiff_ClearedSongInfo(t *testing.T) {
	prev := poweredOn(30)
	prev.SongInfo = &kef.SongInfo{Title: "Gone"}
	prev.SongLength = ptr(2000)

	next := poweredOn(30)

	change := Diff(prev, next)
	require.NotNil(t, change.SongInfo)
	assert.True(t, change.SongInfo.IsZero())
	require.NotNil(t, change.SongLength)
	assert.Equal(t, 0, *change.SongLength)

	assert.Equal(t, next, prev.Apply(change))
}

func TestDiff_EmptySongInfoEqualsNil(t *testing.T) {
	prev := poweredOn(30)
	next := poweredOn(30)
	next.SongInfo = &kef.SongInfo{}

	assert.True(t, Diff(prev, next).IsEmpty())
}

func TestStateStore_ApplyAndReplace(t *testing.T) {
	store := NewStateStore()
	assert.Equal(t, kef.DefaultStatus(), store.Get())
	assert.True(t, store.UpdatedAt().IsZero())

	prev, current := store.Apply(kef.SpeakerChange{Volume: ptr(12)})
	assert.Equal(t, 0, prev.Volume)
	assert.Equal(t, 12, current.Volume)
	assert.False(t, store.UpdatedAt().IsZero())

	old := store.Replace(poweredOn(40))
	assert.Equal(t, 12, old.Volume)
	assert.Equal(t, 40, store.Get().Volume)

	prev, current = store.Apply(kef.SpeakerChange{})
	assert.Equal(t, prev, current)
}
