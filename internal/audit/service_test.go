package audit

import (
	"bytes"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/db"
	"github.com/strefethen/kef-hub-go/internal/kef"
)

func newTestService(t *testing.T, retentionDays int) (*Service, *db.DBPair) {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	logger := log.New(&bytes.Buffer{}, "", 0)
	return NewService(config.Config{AuditRetentionDays: retentionDays}, dbPair, logger), dbPair
}

func TestService_SpeakerChanged(t *testing.T) {
	service, _ := newTestService(t, 0)

	volume := 42
	muted := false
	status := kef.DefaultStatus()
	status.Volume = volume

	service.SpeakerChanged("10.0.0.5", kef.SpeakerChange{Volume: &volume, Muted: &muted}, status)

	events, total, hasMore, err := service.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.False(t, hasMore)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, EventSpeakerStateChanged, event.Type)
	require.NotNil(t, event.SpeakerIP)
	assert.Equal(t, "10.0.0.5", *event.SpeakerIP)
	assert.Equal(t, []string{"volume", "muted"}, event.Fields)
	assert.Equal(t, "speaker changed: volume, muted", event.Message)

	change, ok := event.Payload["change"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), change["volume"])
	assert.Equal(t, false, change["muted"])
}

func TestService_SpeakerChangedSkipsProgressOnly(t *testing.T) {
	service, _ := newTestService(t, 0)

	progress := int64(12000)
	service.SpeakerChanged("10.0.0.5", kef.SpeakerChange{SongProgress: &progress}, kef.DefaultStatus())
	service.SpeakerChanged("10.0.0.5", kef.SpeakerChange{}, kef.DefaultStatus())

	_, total, _, err := service.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)

	playing := true
	service.SpeakerChanged("10.0.0.5", kef.SpeakerChange{SongProgress: &progress, IsPlaying: &playing}, kef.DefaultStatus())
	events, _, _, err := service.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"isPlaying"}, events[0].Fields)
}

func TestService_RecordEventRejectsUnknownType(t *testing.T) {
	service, _ := newTestService(t, 0)

	_, err := service.RecordEvent(WriteEventInput{Type: "BOGUS", Message: "x"})
	require.Error(t, err)
	assert.True(t, service.IsHealthy())
}

func TestService_RecordReload(t *testing.T) {
	service, _ := newTestService(t, 0)

	service.RecordReload([]string{"10.0.0.1"}, nil, []string{"10.0.0.2"})

	events, _, _, err := service.QueryEvents(EventQueryFilters{Type: EventSpeakersReloaded})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "speakers reloaded: 1 added, 0 removed, 1 restarted", events[0].Message)
}

func TestService_GetEvent(t *testing.T) {
	service, _ := newTestService(t, 0)

	event, err := service.RecordEvent(WriteEventInput{Type: EventSystemStartup, Message: "boot"})
	require.NoError(t, err)

	got, err := service.GetEvent(event.EventID)
	require.NoError(t, err)
	assert.Equal(t, "boot", got.Message)

	_, err = service.GetEvent("nope")
	var notFound *EventNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.EventID)
}

func TestService_QueryClampsLimit(t *testing.T) {
	service, _ := newTestService(t, 0)

	for range 3 {
		_, err := service.RecordEvent(WriteEventInput{Type: EventSystemStartup, Message: "boot"})
		require.NoError(t, err)
	}

	events, total, hasMore, err := service.QueryEvents(EventQueryFilters{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, events, 2)
	assert.True(t, hasMore)

	events, _, hasMore, err = service.QueryEvents(EventQueryFilters{Limit: MaxQueryLimit * 10})
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.False(t, hasMore)
}

func TestService_PruneUsesRetention(t *testing.T) {
	service, _ := newTestService(t, 7)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	fixedClock(service.repo, &now)

	_, err := service.RecordEvent(WriteEventInput{Type: EventSystemStartup, Message: "old"})
	require.NoError(t, err)
	now = now.AddDate(0, 0, 6)
	_, err = service.RecordEvent(WriteEventInput{Type: EventSystemStartup, Message: "recent"})
	require.NoError(t, err)
	now = now.AddDate(0, 0, 2)

	deleted, err := service.Prune()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestService_PruneJobStartStop(t *testing.T) {
	service, _ := newTestService(t, 1)
	service.pruneInterval = 10 * time.Millisecond

	service.StartPruneJob()
	time.Sleep(30 * time.Millisecond)
	service.StopPruneJob()
	service.StopPruneJob()
	assert.True(t, service.IsHealthy())
}

func TestService_UnhealthyAfterRepeatedFailures(t *testing.T) {
	service, dbPair := newTestService(t, 0)
	require.NoError(t, dbPair.Close())

	for range MaxConsecutiveFailures {
		_, err := service.RecordEvent(WriteEventInput{Type: EventSystemStartup, Message: "boot"})
		require.Error(t, err)
	}
	assert.False(t, service.IsHealthy())
}
