package board

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/golcr/pkg/device"
	"github.com/itohio/golcr/pkg/pinmap"
)

func newTestMock() *Mock {
	return NewMock(Options{Name: "valves", Model: pinmap.UNO, Delay: time.Millisecond})
}

func TestNewMock_Defaults(t *testing.T) {
	m := NewMock(Options{Name: "sensors"})
	assert.Equal(t, "sensors", m.Name())
	assert.Equal(t, pinmap.UNO, m.Model())
	assert.False(t, m.IsConnected())
	assert.Equal(t, device.DefaultAttempts, m.opts.Attempts)
	assert.Equal(t, DefaultBaudRate, m.opts.BaudRate)
}

func TestMock_ConnectAndWrite(t *testing.T) {
	m := newTestMock()
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())
	assert.Equal(t, 1, m.Attempts())

	require.NoError(t, m.SetDigitalOutput(3))
	require.NoError(t, m.DigitalWrite(3, High))
	require.NoError(t, m.DigitalWrite(3, Low))

	assert.Equal(t, []Write{{3, High}, {3, Low}}, m.Writes())
	l, ok := m.Level(3)
	assert.True(t, ok)
	assert.Equal(t, Low, l)
}

func TestMock_WriteRequiresOutputMode(t *testing.T) {
	m := newTestMock()
	require.NoError(t, m.Connect(context.Background()))
	assert.ErrorIs(t, m.DigitalWrite(4, High), ErrDeviceIO)
}

func TestMock_WriteWhenDisconnected(t *testing.T) {
	m := newTestMock()
	assert.ErrorIs(t, m.SetDigitalOutput(3), ErrDeviceIO)
	assert.ErrorIs(t, m.DigitalWrite(3, High), ErrDeviceIO)
}

func TestMock_RetriesFailedConnects(t *testing.T) {
	m := newTestMock()
	m.FailConnects = 2
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 3, m.Attempts())
}

func TestMock_ConnectExhausted(t *testing.T) {
	m := newTestMock()
	m.FailConnects = -1
	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
	assert.Equal(t, device.DefaultAttempts, m.Attempts())
	assert.False(t, m.IsConnected())
}

func TestMock_FailWritesAfter(t *testing.T) {
	m := newTestMock()
	m.FailWritesAfter = 1
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.SetDigitalOutput(2))
	require.NoError(t, m.DigitalWrite(2, High))
	assert.ErrorIs(t, m.DigitalWrite(2, Low), ErrDeviceIO)
}

func TestMock_CloseIdempotent(t *testing.T) {
	m := newTestMock()
	require.NoError(t, m.Connect(context.Background()))
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
	assert.False(t, m.IsConnected())
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "HIGH", High.String())
	assert.Equal(t, "LOW", Low.String())
}

func TestMock_RejectsPinsBeyondModel(t *testing.T) {
	m := newTestMock()
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.SetDigitalOutput(19), "A5 on an UNO")
	require.NoError(t, m.DigitalWrite(19, High))

	for _, pin := range []int{20, 99, -1} {
		assert.ErrorIs(t, m.SetDigitalOutput(pin), ErrDeviceIO, "pin %d", pin)
		assert.ErrorIs(t, m.DigitalWrite(pin, High), ErrDeviceIO, "pin %d", pin)
	}
	assert.Equal(t, []Write{{19, High}}, m.Writes())
}
