package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type scriptedAPI struct {
	states []string
	errs   []error
	calls  int
}

func (s *scriptedAPI) GetEnvironment(_ context.Context, _, _ string) (fabric.EnvironmentMetadata, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return fabric.EnvironmentMetadata{}, s.errs[i]
	}
	state := s.states[len(s.states)-1]
	if i < len(s.states) {
		state = s.states[i]
	}
	var m fabric.EnvironmentMetadata
	m.Properties.PublishDetails.State = state
	return m, nil
}

func TestWaitSucceedsImmediatelyWithoutSleeping(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	api := &scriptedAPI{states: []string{"Success"}}
	p := &Poller{API: api, Clock: clk}

	out, err := p.Wait(context.Background(), "ws", "env")
	require.NoError(t, err)
	assert.Equal(t, Succeeded, out)
	assert.Empty(t, clk.sleeps)
	assert.Equal(t, 1, api.calls)
}

func TestWaitFailedReturnsImmediately(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	api := &scriptedAPI{states: []string{"Running", "failed"}}
	p := &Poller{API: api, Clock: clk}

	out, err := p.Wait(context.Background(), "ws", "env")
	require.NoError(t, err)
	assert.Equal(t, Failed, out)
	assert.Equal(t, []time.Duration{DefaultInterval}, clk.sleeps)
}

func TestWaitRunningUntilSuccess(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	api := &scriptedAPI{states: []string{"running", "Running", "succeeded"}}
	p := &Poller{API: api, Clock: clk, Interval: 10 * time.Second}

	out, err := p.Wait(context.Background(), "ws", "env")
	require.NoError(t, err)
	assert.Equal(t, Succeeded, out)
	assert.Equal(t, 3, api.calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, clk.sleeps)
}

func TestWaitTimesOutWhileRunning(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	api := &scriptedAPI{states: []string{"running"}}
	p := &Poller{API: api, Clock: clk, Interval: time.Minute, Timeout: 5 * time.Minute}

	out, err := p.Wait(context.Background(), "ws", "env")
	require.NoError(t, err)
	assert.Equal(t, TimedOut, out)
	assert.Len(t, clk.sleeps, 5)
	for _, d := range clk.sleeps {
		assert.Equal(t, time.Minute, d, "interval is constant")
	}
}

func TestWaitUnknownStateKeepsPolling(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	api := &scriptedAPI{states: []string{"none", "", "Waiting", "Success"}}
	p := &Poller{API: api, Clock: clk}

	out, err := p.Wait(context.Background(), "ws", "env")
	require.NoError(t, err)
	assert.Equal(t, Succeeded, out)
	assert.Equal(t, 4, api.calls)
}

func TestWaitRetriesMetadataErrors(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	api := &scriptedAPI{
		states: []string{"", "Success"},
		errs:   []error{&fabric.RemoteError{StatusCode: 503}},
	}
	p := &Poller{API: api, Clock: clk}

	out, err := p.Wait(context.Background(), "ws", "env")
	require.NoError(t, err)
	assert.Equal(t, Succeeded, out)
	assert.Equal(t, 2, api.calls)
}

func TestWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &scriptedAPI{states: []string{"running"}}
	p := &Poller{API: api, Interval: time.Hour}

	out, err := p.Wait(ctx, "ws", "env")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, TimedOut, out)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	for _, state := range []string{"Running", "Waiting", "Cancelling", "canceling"} {
		assert.True(t, IsRunning(state), state)
	}
	for _, state := range []string{"success", "Failed", "Cancelled", "none", ""} {
		assert.False(t, IsRunning(state), state)
	}
}
