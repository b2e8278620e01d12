package events

import (
	"github.com/strefethen/kef-hub-go/internal/kef"
)

// Diff returns the fields of next that differ from prev. A field that went
// from present to absent is reported with its clearing value (an empty
// SongInfo, a zero length or progress), which SpeakerStatus.Apply understands.
func Diff(prev, next kef.SpeakerStatus) kef.SpeakerChange {
	var change kef.SpeakerChange

	if next.Power != prev.Power {
		power := next.Power
		change.Power = &power
	}
	if next.Source != prev.Source {
		source := next.Source
		change.Source = &source
	}
	if next.Volume != prev.Volume {
		volume := next.Volume
		change.Volume = &volume
	}
	if next.Muted != prev.Muted {
		muted := next.Muted
		change.Muted = &muted
	}
	if next.IsPlaying != prev.IsPlaying {
		playing := next.IsPlaying
		change.IsPlaying = &playing
	}
	if !sameSongInfo(prev.SongInfo, next.SongInfo) {
		info := kef.SongInfo{}
		if next.SongInfo != nil {
			info = *next.SongInfo
		}
		change.SongInfo = &info
	}
	if !samePtr(prev.SongLength, next.SongLength) {
		length := 0
		if next.SongLength != nil {
			length = *next.SongLength
		}
		change.SongLength = &length
	}
	if !samePtr(prev.SongProgress, next.SongProgress) {
		var progress int64
		if next.SongProgress != nil {
			progress = *next.SongProgress
		}
		change.SongProgress = &progress
	}

	return change
}

func sameSongInfo(a, b *kef.SongInfo) bool {
	if a == nil || a.IsZero() {
		return b == nil || b.IsZero()
	}
	if b == nil {
		return false
	}
	return *a == *b
}

func samePtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
