package service

import (
	"context"

	"go.uber.org/zap"
)

// reportCounters publishes the accessor counters as gauges and logs them.
func (s *Service) reportCounters(_ context.Context) {
	snapshot := s.accessor.Counters()

	s.metrics.Gauge("readthrough_counter_total_requests", nil).Set(float64(snapshot.TotalRequests))
	s.metrics.Gauge("readthrough_counter_external_fetches", nil).Set(float64(snapshot.ExternalFetches))

	hitRatio := 0.0
	if snapshot.TotalRequests > 0 && snapshot.ExternalFetches <= snapshot.TotalRequests {
		hitRatio = 1 - float64(snapshot.ExternalFetches)/float64(snapshot.TotalRequests)
	}

	s.logger.Info("Request counters",
		zap.Uint64("total_requests", snapshot.TotalRequests),
		zap.Uint64("external_fetches", snapshot.ExternalFetches),
		zap.Float64("hit_ratio", hitRatio))
}
