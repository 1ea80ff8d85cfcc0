package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsFirstTime(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), 4, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), 4, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("port busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), 4, time.Millisecond, func() error {
		calls++
		return errors.New("no device")
	})
	assert.EqualError(t, err, "no device")
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, calls)
}

func TestRetry_ZeroAttemptsStillTriesOnce(t *testing.T) {
	n, err := Retry(context.Background(), 0, time.Millisecond, func() error {
		return errors.New("no device")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, 4, time.Millisecond, func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestConnector_Connect(t *testing.T) {
	c := NewConnector("lcr")
	c.Delay = time.Millisecond
	assert.Equal(t, Disconnected, c.State())

	err := c.Connect(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Connected, c.State())

	assert.True(t, c.MarkClosed())
	assert.Equal(t, Closed, c.State())
	assert.False(t, c.MarkClosed(), "second close reports the device was already closed")
}

func TestConnector_Failed(t *testing.T) {
	c := NewConnector("valves")
	c.Attempts = 3
	c.Delay = time.Millisecond

	calls := 0
	err := c.Connect(context.Background(), func() error {
		calls++
		return errors.New("serial port in use")
	})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 3, calls)
	assert.Equal(t, Failed, c.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestRetry_PermanentStopsEarly(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), 4, time.Millisecond, func() error {
		calls++
		return Permanent(ErrTimeout)
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestConnector_FailedKeepsCause(t *testing.T) {
	c := NewConnector("lcr")
	c.Delay = time.Millisecond

	err := c.Connect(context.Background(), func() error {
		return Permanent(ErrTimeout)
	})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start = time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Minute), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
