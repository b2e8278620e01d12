package policy

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) GetVolume(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockDevice) SetVolume(ctx context.Context, volume int) error {
	args := m.Called(ctx, volume)
	return args.Error(0)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func intPtr(v int) *int {
	return &v
}

func TestClamp_Idempotent(t *testing.T) {
	limits := []Limits{{0, 100}, {10, 80}, {0, 0}, {50, 50}, {20, 30}}
	for _, l := range limits {
		for v := -20; v <= 120; v++ {
			once := Clamp(v, l.Min, l.Max)
			require.Equal(t, once, Clamp(once, l.Min, l.Max), "v=%d limits=%v", v, l)
			require.GreaterOrEqual(t, once, l.Min)
			require.LessOrEqual(t, once, l.Max)
		}
	}
}

func TestClamp_Bounds(t *testing.T) {
	assert.Equal(t, 10, Clamp(5, 10, 80))
	assert.Equal(t, 80, Clamp(95, 10, 80))
	assert.Equal(t, 42, Clamp(42, 10, 80))
}

func TestVolumePolicy_NightCapComposesAfterClamp(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 30).Return(nil).Once()
	device.On("SetVolume", mock.Anything, 80).Return(nil).Once()

	p := New(device, Config{Limits: &Limits{Min: 0, Max: 80}, NightMax: intPtr(30)}, quietLogger())

	p.ActivateNightMode()
	got, err := p.SetVolume(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 30, got)

	p.DeactivateNightMode()
	got, err = p.SetVolume(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 80, got)

	device.AssertExpectations(t)
}

func TestVolumePolicy_NightModeWithoutCap(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 70).Return(nil).Once()

	p := New(device, Config{}, quietLogger())
	p.ActivateNightMode()
	assert.True(t, p.NightModeActive())
	assert.False(t, p.NightModeConfigured())

	got, err := p.SetVolume(context.Background(), 70)
	require.NoError(t, err)
	assert.Equal(t, 70, got)
}

func TestVolumePolicy_DefaultLimits(t *testing.T) {
	p := New(new(MockDevice), Config{}, quietLogger())
	assert.Equal(t, Limits{Min: 0, Max: 100}, p.Limits())
	assert.Equal(t, 100, p.Limit(150))
	assert.Equal(t, 0, p.Limit(-3))
}

func TestVolumePolicy_ZeroRangeIsHonoured(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 0).Return(nil).Once()

	p := New(device, Config{Limits: &Limits{Min: 0, Max: 0}}, quietLogger())
	assert.Equal(t, Limits{Min: 0, Max: 0}, p.Limits())

	got, err := p.SetVolume(context.Background(), 80)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	device.AssertExpectations(t)
}

func TestVolumePolicy_MuteUnmuteRestores(t *testing.T) {
	for _, v0 := range []int{1, 17, 42, 99, 100} {
		device := new(MockDevice)
		device.On("SetVolume", mock.Anything, 0).Return(nil).Once()
		device.On("SetVolume", mock.Anything, v0).Return(nil).Once()

		p := New(device, Config{}, quietLogger())
		p.ObserveVolume(v0)

		require.NoError(t, p.Mute(context.Background()))
		restored, err := p.Unmute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, v0, restored)
		device.AssertExpectations(t)
	}
}

func TestVolumePolicy_UnmuteBypassesNightCap(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 0).Return(nil).Once()
	device.On("SetVolume", mock.Anything, 60).Return(nil).Once()

	p := New(device, Config{NightMax: intPtr(20)}, quietLogger())
	p.ObserveVolume(60)
	require.NoError(t, p.Mute(context.Background()))

	p.ActivateNightMode()
	restored, err := p.Unmute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, restored)
}

func TestVolumePolicy_MuteBeforeAnyVolume(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 0).Return(nil).Once()
	device.On("SetVolume", mock.Anything, DefaultPreviousVolume).Return(nil).Once()

	p := New(device, Config{}, quietLogger())
	require.NoError(t, p.Mute(context.Background()))

	restored, err := p.Unmute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultPreviousVolume, restored)
}

func TestVolumePolicy_DoubleMuteKeepsMemory(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 0).Return(nil).Twice()

	p := New(device, Config{}, quietLogger())
	p.ObserveVolume(35)

	require.NoError(t, p.Mute(context.Background()))
	require.NoError(t, p.Mute(context.Background()))
	assert.Equal(t, 35, p.PreviousVolume())
}

func TestVolumePolicy_MuteFailureKeepsVolume(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 0).Return(errors.New("unreachable")).Once()

	p := New(device, Config{}, quietLogger())
	p.ObserveVolume(35)

	require.Error(t, p.Mute(context.Background()))
	assert.Equal(t, 35, p.PreviousVolume())
}

func TestVolumePolicy_StepVolume(t *testing.T) {
	device := new(MockDevice)
	device.On("GetVolume", mock.Anything).Return(40, nil).Once()
	device.On("SetVolume", mock.Anything, 45).Return(nil).Once()
	device.On("GetVolume", mock.Anything).Return(2, nil).Once()
	device.On("SetVolume", mock.Anything, 0).Return(nil).Once()

	p := New(device, Config{}, quietLogger())

	got, err := p.StepVolume(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 45, got)

	got, err = p.StepVolume(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	device.AssertExpectations(t)
}

func TestVolumePolicy_StepVolumeThroughLimits(t *testing.T) {
	device := new(MockDevice)
	device.On("GetVolume", mock.Anything).Return(28, nil).Once()
	device.On("SetVolume", mock.Anything, 30).Return(nil).Once()

	p := New(device, Config{Limits: &Limits{Min: 10, Max: 80}, NightMax: intPtr(30)}, quietLogger())
	p.ActivateNightMode()

	got, err := p.StepVolume(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 30, got)
}

func TestVolumePolicy_StepVolumeReadError(t *testing.T) {
	device := new(MockDevice)
	device.On("GetVolume", mock.Anything).Return(0, errors.New("timeout")).Once()

	p := New(device, Config{}, quietLogger())
	_, err := p.StepVolume(context.Background(), true)
	require.Error(t, err)
	device.AssertNotCalled(t, "SetVolume", mock.Anything, mock.Anything)
}

func TestVolumePolicy_SetVolumeErrorPropagates(t *testing.T) {
	device := new(MockDevice)
	device.On("SetVolume", mock.Anything, 50).Return(errors.New("http 500")).Once()

	p := New(device, Config{}, quietLogger())
	_, err := p.SetVolume(context.Background(), 50)
	require.Error(t, err)
}
