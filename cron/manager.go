package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const DefaultJobTimeout = 5 * time.Minute

// specParser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as "@every 1m".
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	timezone        *time.Location
	jobs            map[string]*types.JobEntry
	state           atomic.Value
	mu              sync.RWMutex
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	cronConfig := config.GetConfig().Cron
	if cronConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "cron")
	}

	timezone := time.UTC
	if cronConfig.Timezone != "" {
		location, err := time.LoadLocation(cronConfig.Timezone)
		if err != nil {
			return nil, types.Errorf(types.ErrInvalidParameter, "timezone %q: %v", cronConfig.Timezone, err)
		}
		timezone = location
	}

	cronL := cronLogger{logger: logger}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithParser(specParser),
			cron.WithChain(cron.Recover(cronL), cron.SkipIfStillRunning(cronL)),
			cron.WithLogger(cronL),
		),
		jobs:            make(map[string]*types.JobEntry),
		timezone:        timezone,
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      DefaultJobTimeout,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Add(jobName, spec string, job func(ctx context.Context)) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}

	if job == nil {
		return types.ErrCronJobIsNil
	}

	if _, err := specParser.Parse(spec); err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%q: %v", spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "name: %s", jobName)
	}

	entryID, err := m.cron.AddFunc(spec, m.wrapJob(jobName, job))
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%q: %v", spec, err)
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		AddedAt: time.Now(),
	}

	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}

	m.jobs[jobName] = entry

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "name: %s", jobName)
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	return nil
}

func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]types.JobEntry, 0, len(m.jobs))
	for _, entry := range m.jobs {
		snapshot := *entry
		if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
			snapshot.NextRun = cronEntry.Next
		}
		jobs = append(jobs, snapshot)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	return jobs
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.cron.Start()
	m.setState(StateRunning)
	m.setSchedulerStatus(1)

	m.logger.Info("Cron manager started",
		zap.String("timezone", m.timezone.String()),
		zap.Int("jobs", len(m.jobs)))

	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(StateStopped)

	m.cancel()
	stopCtx := m.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Cron manager stop timeout, running jobs were abandoned")
		return types.Errorf(types.ErrComponentStopFailed, "cron: jobs still running after %v", m.shutdownTimeout)
	}

	m.setSchedulerStatus(0)
	m.logger.Info("Cron scheduler stopped gracefully")

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) wrapJob(jobName string, job func(ctx context.Context)) func() {
	return func() {
		if m.ctx.Err() != nil {
			m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		}

		startTime := time.Now()
		m.logger.Debug("Cron job started", zap.String("job_name", jobName))

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		result := "success"
		func() {
			defer func() {
				if r := recover(); r != nil {
					result = "error"
					m.logger.Error("Cron job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", r))
				}
			}()
			job(jobCtx)
		}()

		if jobCtx.Err() != nil && result == "success" {
			result = "timeout"
		}

		duration := time.Since(startTime)
		m.recordRun(jobName, startTime, duration)

		if m.metrics != nil {
			m.metrics.Counter("cron_job_executions_total", map[string]string{
				"job_name": jobName,
				"result":   result,
			}).Inc()
			m.metrics.Histogram("cron_job_duration_seconds",
				[]float64{0.01, 0.1, 1.0, 10.0, 60.0, 300.0},
				map[string]string{"job_name": jobName},
			).Observe(duration.Seconds())
		}

		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.String("result", result),
			zap.Duration("duration", duration))
	}
}

func (m *Manager) recordRun(jobName string, startTime time.Time, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastRun = startTime
	entry.LastDuration = duration
	entry.RunCount++
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

// cronLogger adapts types.Logger to the cron.Logger interface.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("Cron: "+msg, keyValueFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(keyValueFields(keysAndValues), zap.Error(err))
	l.logger.Error("Cron: "+msg, fields...)
}

func keyValueFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
