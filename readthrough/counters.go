package readthrough

import "sync/atomic"

// Counters tracks accesses since process start. Both values only grow.
type Counters struct {
	totalRequests   atomic.Uint64
	externalFetches atomic.Uint64
}

type CountersSnapshot struct {
	TotalRequests   uint64 `json:"totalRequests"`
	ExternalFetches uint64 `json:"externalFetches"`
}

func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		TotalRequests:   c.totalRequests.Load(),
		ExternalFetches: c.externalFetches.Load(),
	}
}

func (c *Counters) recordRequest() {
	c.totalRequests.Add(1)
}

func (c *Counters) recordFetch() {
	c.externalFetches.Add(1)
}
