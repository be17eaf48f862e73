package metrics

import (
	"context"
	"time"

	"github.com/saiset-co/sai-weather/types"
)

// NewManager returns the prometheus backend, or a no-op manager when metrics
// are disabled so callers never have to nil-check.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil || !metricsConfig.Enabled {
		logger.Info("Metrics disabled")
		return NewNoop(), nil
	}

	prom, err := NewPrometheusMetrics(ctx, logger, metricsConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	return prom, nil
}

type noopMetrics struct{}

func NewNoop() types.MetricsManager {
	return noopMetrics{}
}

func (noopMetrics) Start() error                    { return nil }
func (noopMetrics) Stop() error                     { return nil }
func (noopMetrics) IsRunning() bool                 { return false }
func (noopMetrics) RegisterRoutes(types.HTTPRouter) {}

func (noopMetrics) Counter(string, map[string]string) types.Counter {
	return emptyCounter{}
}

func (noopMetrics) Gauge(string, map[string]string) types.Gauge {
	return emptyGauge{}
}

func (noopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return emptyHistogram{}
}

type emptyCounter struct{}

func (emptyCounter) Inc()         {}
func (emptyCounter) Add(float64)  {}
func (emptyCounter) Get() float64 { return 0 }

type emptyGauge struct{}

func (emptyGauge) Set(float64)  {}
func (emptyGauge) Inc()         {}
func (emptyGauge) Dec()         {}
func (emptyGauge) Get() float64 { return 0 }

type emptyHistogram struct{}

func (emptyHistogram) Observe(float64)           {}
func (emptyHistogram) ObserveDuration(time.Time) {}
func (emptyHistogram) GetCount() uint64          { return 0 }
func (emptyHistogram) GetSum() float64           { return 0 }
