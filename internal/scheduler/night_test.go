package scheduler

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/kef-hub-go/internal/config"
)

type recordingTarget struct {
	mu     sync.Mutex
	active bool
	calls  []bool
}

func (r *recordingTarget) ActivateNightMode() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.calls = append(r.calls, true)
}

func (r *recordingTarget) DeactivateNightMode() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.calls = append(r.calls, false)
}

func (r *recordingTarget) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func newTestScheduler(now time.Time) *NightScheduler {
	s := NewNightScheduler(log.New(io.Discard, "", 0))
	s.now = func() time.Time { return now }
	return s
}

func TestParseWindow(t *testing.T) {
	loc := mustLocation(t, "Europe/Berlin")
	window, err := ParseWindow(config.Schedule{Start: "22:30", End: "07:00"}, loc)
	require.NoError(t, err)

	assert.Equal(t, 22, window.StartHour)
	assert.Equal(t, 30, window.StartMinute)
	assert.Equal(t, 7, window.EndHour)
	assert.Equal(t, "CRON_TZ=Europe/Berlin 30 22 * * *", window.StartSpec())
	assert.Equal(t, "CRON_TZ=Europe/Berlin 0 7 * * *", window.EndSpec())

	_, err = ParseWindow(config.Schedule{Start: "nope", End: "07:00"}, loc)
	require.Error(t, err)
}

func TestWindow_ContainsWrapsMidnight(t *testing.T) {
	loc := mustLocation(t, "America/New_York")
	window, err := ParseWindow(config.Schedule{Start: "22:00", End: "07:00"}, loc)
	require.NoError(t, err)

	at := func(hour, minute int) time.Time {
		return time.Date(2026, 3, 10, hour, minute, 0, 0, loc)
	}

	assert.True(t, window.Contains(at(22, 0)))
	assert.True(t, window.Contains(at(23, 59)))
	assert.True(t, window.Contains(at(3, 0)))
	assert.True(t, window.Contains(at(6, 59)))
	assert.False(t, window.Contains(at(7, 0)))
	assert.False(t, window.Contains(at(12, 0)))
	assert.False(t, window.Contains(at(21, 59)))
}

func TestWindow_ContainsSameDay(t *testing.T) {
	window, err := ParseWindow(config.Schedule{Start: "13:00", End: "15:30"}, time.UTC)
	require.NoError(t, err)

	assert.False(t, window.Contains(time.Date(2026, 1, 1, 12, 59, 0, 0, time.UTC)))
	assert.True(t, window.Contains(time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)))
	assert.True(t, window.Contains(time.Date(2026, 1, 1, 15, 29, 0, 0, time.UTC)))
	assert.False(t, window.Contains(time.Date(2026, 1, 1, 15, 30, 0, 0, time.UTC)))
}

func TestWindow_ContainsUsesWindowZone(t *testing.T) {
	tokyo := mustLocation(t, "Asia/Tokyo")
	window, err := ParseWindow(config.Schedule{Start: "22:00", End: "06:00"}, tokyo)
	require.NoError(t, err)

	// 14:00 UTC is 23:00 in Tokyo.
	assert.True(t, window.Contains(time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)))
	// 03:00 UTC is 12:00 in Tokyo.
	assert.False(t, window.Contains(time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)))
}

func TestWindow_EmptyWhenStartEqualsEnd(t *testing.T) {
	window, err := ParseWindow(config.Schedule{Start: "08:00", End: "08:00"}, time.UTC)
	require.NoError(t, err)
	assert.False(t, window.Contains(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)))
}

func TestNightScheduler_RegisterSetsInitialState(t *testing.T) {
	window, err := ParseWindow(config.Schedule{Start: "22:00", End: "07:00"}, time.UTC)
	require.NoError(t, err)

	inside := newTestScheduler(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC))
	target := &recordingTarget{}
	active, err := inside.Register("192.168.1.50", window, target)
	require.NoError(t, err)
	assert.True(t, active)
	assert.True(t, target.Active())

	outside := newTestScheduler(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	target = &recordingTarget{}
	active, err = outside.Register("192.168.1.50", window, target)
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, target.Active())
}

func TestNightScheduler_JobsFlipTarget(t *testing.T) {
	window, err := ParseWindow(config.Schedule{Start: "22:00", End: "07:00"}, time.UTC)
	require.NoError(t, err)

	s := newTestScheduler(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	target := &recordingTarget{}
	_, err = s.Register("speaker", window, target)
	require.NoError(t, err)

	s.mu.Lock()
	ids := s.entries["speaker"]
	s.mu.Unlock()
	require.Len(t, ids, 2)

	s.cron.Entry(ids[0]).Job.Run()
	assert.True(t, target.Active())
	s.cron.Entry(ids[1]).Job.Run()
	assert.False(t, target.Active())
}

func TestNightScheduler_ReRegisterReplaces(t *testing.T) {
	window, err := ParseWindow(config.Schedule{Start: "22:00", End: "07:00"}, time.UTC)
	require.NoError(t, err)

	s := newTestScheduler(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	_, err = s.Register("speaker", window, &recordingTarget{})
	require.NoError(t, err)
	_, err = s.Register("speaker", window, &recordingTarget{})
	require.NoError(t, err)

	assert.Len(t, s.cron.Entries(), 2)
	assert.True(t, s.Registered("speaker"))

	s.Unregister("speaker")
	assert.Empty(t, s.cron.Entries())
	assert.False(t, s.Registered("speaker"))
}

func TestNightScheduler_NextTransitions(t *testing.T) {
	window, err := ParseWindow(config.Schedule{Start: "22:00", End: "07:00"}, time.UTC)
	require.NoError(t, err)

	s := newTestScheduler(time.Now())
	_, err = s.Register("speaker", window, &recordingTarget{})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		start, end, ok := s.NextTransitions("speaker")
		return ok && !start.IsZero() && !end.IsZero()
	}, time.Second, 10*time.Millisecond)

	start, end, _ := s.NextTransitions("speaker")
	assert.Equal(t, 22, start.In(time.UTC).Hour())
	assert.Equal(t, 7, end.In(time.UTC).Hour())

	_, _, ok := s.NextTransitions("missing")
	assert.False(t, ok)
}
