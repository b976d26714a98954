package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testService struct {
	BaseService
	startErr error
	stops    int
}

func newTestService(startErr error) *testService {
	ts := &testService{startErr: startErr}
	ts.BaseService = *NewBaseService(nil, "TestService", ts)
	return ts
}

func (ts *testService) OnStart() error { return ts.startErr }
func (ts *testService) OnStop()        { ts.stops++ }

func TestBaseServiceWait(t *testing.T) {
	ts := newTestService(nil)
	require.NoError(t, ts.Start())

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		waitFinished <- struct{}{}
	}()

	go ts.Stop() //nolint:errcheck // ignore for tests

	select {
	case <-waitFinished:
		// all good
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected Wait() to finish within 100 ms.")
	}
}

func TestBaseServiceLifecycle(t *testing.T) {
	ts := newTestService(nil)
	assert.False(t, ts.IsRunning())
	assert.ErrorIs(t, ts.Stop(), ErrNotStarted)

	require.NoError(t, ts.Start())
	assert.True(t, ts.IsRunning())
	assert.ErrorIs(t, ts.Start(), ErrAlreadyStarted)

	require.NoError(t, ts.Stop())
	assert.False(t, ts.IsRunning())
	assert.ErrorIs(t, ts.Stop(), ErrAlreadyStopped)
	assert.Equal(t, 1, ts.stops)

	select {
	case <-ts.Quit():
	default:
		t.Fatal("quit channel should be closed after Stop")
	}
}

func TestBaseServiceStartErrorCanRetry(t *testing.T) {
	ts := newTestService(errors.New("boom"))
	assert.Error(t, ts.Start())
	assert.False(t, ts.IsRunning())

	ts.startErr = nil
	assert.NoError(t, ts.Start())
	assert.True(t, ts.IsRunning())
}
