package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/kef-hub-go/internal/kef"
	"github.com/strefethen/kef-hub-go/internal/kef/keftest"
	"github.com/strefethen/kef-hub-go/internal/kef/rpc"
)

func newSpeakerConnector(t *testing.T) (*keftest.Speaker, *kef.Connector) {
	t.Helper()
	speaker := keftest.NewSpeaker(t)
	return speaker, kef.NewConnector(rpc.NewClient(speaker.Host(), 500*time.Millisecond), quietLogger())
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchStatus(ctx context.Context, opts kef.StatusOptions) (kef.StatusRead, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(kef.StatusRead), args.Error(1)
}

func fullRead(status kef.SpeakerStatus) kef.StatusRead {
	return kef.StatusRead{Status: status}
}

func TestComparer_EmitsOnlyChangedField(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchStatus", mock.Anything, kef.StatusOptions{}).Return(fullRead(poweredOn(35)), nil).Once()

	store := NewStateStore()
	store.Replace(poweredOn(30))
	comparer := NewComparer(fetcher, store, kef.StatusOptions{})

	change, prev, err := comparer.Compare(context.Background())
	require.NoError(t, err)

	assert.Equal(t, kef.SpeakerChange{Volume: ptr(35)}, change)
	assert.Equal(t, 30, prev.Volume)
	assert.Equal(t, 35, store.Get().Volume)
	fetcher.AssertExpectations(t)
}

func TestComparer_FailureKeepsSnapshot(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchStatus", mock.Anything, mock.Anything).
		Return(kef.StatusRead{}, errors.New("unreachable")).Once()

	store := NewStateStore()
	before := poweredOn(30)
	store.Replace(before)
	comparer := NewComparer(fetcher, store, kef.StatusOptions{})

	change, _, err := comparer.Compare(context.Background())
	require.Error(t, err)
	assert.True(t, change.IsEmpty())
	assert.Equal(t, before, store.Get())
}

func TestComparer_PassesSongProgressOption(t *testing.T) {
	opts := kef.StatusOptions{IncludeSongProgress: true}
	fetcher := new(MockFetcher)
	fetcher.On("FetchStatus", mock.Anything, opts).Return(fullRead(poweredOn(30)), nil).Once()

	comparer := NewComparer(fetcher, NewStateStore(), opts)
	_, _, err := comparer.Compare(context.Background())
	require.NoError(t, err)
	fetcher.AssertExpectations(t)
}

func TestCheckForChanges(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchStatus", mock.Anything, mock.Anything).Return(fullRead(poweredOn(35)), nil).Once()
	fetcher.On("FetchStatus", mock.Anything, mock.Anything).
		Return(kef.StatusRead{}, errors.New("down")).Once()

	change := CheckForChanges(context.Background(), fetcher, kef.StatusOptions{}, poweredOn(30))
	assert.Equal(t, kef.SpeakerChange{Volume: ptr(35)}, change)

	change = CheckForChanges(context.Background(), fetcher, kef.StatusOptions{}, poweredOn(30))
	assert.True(t, change.IsEmpty())
}

func TestComparer_PartialFailureKeepsPreviousField(t *testing.T) {
	speaker, connector := newSpeakerConnector(t)
	speaker.SetValue(rpc.PathVolume, rpc.I32(42))

	store := NewStateStore()
	comparer := NewComparer(connector, store, kef.StatusOptions{})
	_, _, err := comparer.Compare(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, store.Get().Volume)

	speaker.Fail(rpc.PathVolume, 500)
	change, _, err := comparer.Compare(context.Background())
	require.NoError(t, err)
	assert.True(t, change.IsEmpty(), "unexpected change %v", change.Fields())

	snapshot := store.Get()
	assert.Equal(t, 42, snapshot.Volume)
	assert.False(t, snapshot.Muted)
	assert.Equal(t, kef.PowerOn, snapshot.Power)
}

func TestComparer_PartialFailureStillReportsOtherFields(t *testing.T) {
	speaker, connector := newSpeakerConnector(t)

	store := NewStateStore()
	comparer := NewComparer(connector, store, kef.StatusOptions{})
	_, _, err := comparer.Compare(context.Background())
	require.NoError(t, err)

	speaker.Fail(rpc.PathPlayerData, 500)
	speaker.SetValue(rpc.PathPhysicalSource, rpc.PhysicalSource("bluetooth"))
	change, _, err := comparer.Compare(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"source"}, change.Fields())
	assert.Equal(t, "bluetooth", store.Get().Source)
	assert.Equal(t, 30, store.Get().Volume)
}

func TestCheckForChanges_PartialFailureIsNotAChange(t *testing.T) {
	speaker, connector := newSpeakerConnector(t)
	last, err := connector.GetCompleteStatus(context.Background(), kef.StatusOptions{})
	require.NoError(t, err)

	speaker.Fail(rpc.PathSpeakerStatus, 500)
	change := CheckForChanges(context.Background(), connector, kef.StatusOptions{}, last)
	assert.True(t, change.IsEmpty())
}
