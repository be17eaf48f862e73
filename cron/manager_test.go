package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-weather/logger"
	"github.com/saiset-co/sai-weather/metrics"
	"github.com/saiset-co/sai-weather/types"
)

type staticConfig struct{ cfg *types.ServiceConfig }

func (s staticConfig) Load() error                     { return nil }
func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func newTestManager(t *testing.T, timezone string) *Manager {
	t.Helper()

	m, err := NewManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Cron: &types.CronConfig{Enabled: true, Timezone: timezone, ReportSpec: "@every 1m"},
	}}, logger.NewNop(), metrics.NewNoop())
	require.NoError(t, err)

	return m
}

func TestNewManagerRejectsUnknownTimezone(t *testing.T) {
	_, err := NewManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Cron: &types.CronConfig{Enabled: true, Timezone: "Mars/Olympus"},
	}}, logger.NewNop(), nil)

	require.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestNewManagerRequiresConfig(t *testing.T) {
	_, err := NewManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{}}, logger.NewNop(), nil)

	require.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestAddValidation(t *testing.T) {
	m := newTestManager(t, "UTC")
	noop := func(context.Context) {}

	tests := []struct {
		name    string
		jobName string
		spec    string
		job     func(context.Context)
		wantErr error
	}{
		{name: "empty name", jobName: "", spec: "@every 1m", job: noop, wantErr: types.ErrCronJobNameIsEmpty},
		{name: "nil job", jobName: "report", spec: "@every 1m", job: nil, wantErr: types.ErrCronJobIsNil},
		{name: "bad expression", jobName: "report", spec: "every minute", job: noop, wantErr: types.ErrCronExpressionInvalid},
		{name: "too many fields", jobName: "report", spec: "* * * * * * *", job: noop, wantErr: types.ErrCronExpressionInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, m.Add(tt.jobName, tt.spec, tt.job), tt.wantErr)
		})
	}
}

func TestAddAcceptsSecondsAndDescriptors(t *testing.T) {
	m := newTestManager(t, "Europe/Berlin")
	noop := func(context.Context) {}

	require.NoError(t, m.Add("five-field", "*/5 * * * *", noop))
	require.NoError(t, m.Add("six-field", "30 */5 * * * *", noop))
	require.NoError(t, m.Add("descriptor", "@hourly", noop))

	jobs := m.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "descriptor", jobs[0].Name)
	assert.Equal(t, "five-field", jobs[1].Name)
	assert.Equal(t, "six-field", jobs[2].Name)
}

func TestAddDuplicateAndRemove(t *testing.T) {
	m := newTestManager(t, "UTC")
	noop := func(context.Context) {}

	require.NoError(t, m.Add("report", "@every 1m", noop))
	require.ErrorIs(t, m.Add("report", "@every 2m", noop), types.ErrCronJobExists)

	require.NoError(t, m.Remove("report"))
	require.ErrorIs(t, m.Remove("report"), types.ErrCronJobNotFound)
	assert.Empty(t, m.Jobs())
}

func TestScheduledJobRuns(t *testing.T) {
	m := newTestManager(t, "UTC")

	var runs atomic.Int32
	var sawDeadline atomic.Bool

	require.NoError(t, m.Add("tick", "@every 1s", func(ctx context.Context) {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		runs.Add(1)
	}))

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	assert.True(t, sawDeadline.Load())

	require.Eventually(t, func() bool {
		jobs := m.Jobs()
		return len(jobs) == 1 && jobs[0].RunCount >= 1 && !jobs[0].LastRun.IsZero()
	}, time.Second, 20*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestPanickingJobDoesNotStopScheduler(t *testing.T) {
	m := newTestManager(t, "UTC")

	var runs atomic.Int32
	require.NoError(t, m.Add("panics", "@every 1s", func(context.Context) {
		runs.Add(1)
		panic("boom")
	}))

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
	assert.True(t, m.IsRunning())
}

func TestLifecycleTransitions(t *testing.T) {
	m := newTestManager(t, "UTC")

	require.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
	require.NoError(t, m.Start())
	require.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, m.Stop())
}
