package manager

import (
	"time"

	"github.com/basinrun/coordinator/pkg/metrics"
)

// MetricsCollector periodically samples the manager's store and Raft
// state into the package-level Prometheus gauges.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectRepositoryMetrics()
	c.collectExecutorMetrics()
	c.collectBindingMetrics()
	c.collectTaskMetrics()
	c.collectEventMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectRepositoryMetrics() {
	repos, err := c.manager.ListRepositories()
	if err != nil {
		return
	}
	metrics.RepositoriesTotal.Set(float64(len(repos)))
}

func (c *MetricsCollector) collectExecutorMetrics() {
	executors, err := c.manager.ListExecutors()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, e := range executors {
		counts[e.Extractor]++
	}
	for extractor, count := range counts {
		metrics.ExecutorsTotal.WithLabelValues(extractor).Set(float64(count))
	}
}

func (c *MetricsCollector) collectBindingMetrics() {
	bindings, err := c.manager.ListBindings("")
	if err != nil {
		return
	}
	metrics.BindingsTotal.Set(float64(len(bindings)))
}

func (c *MetricsCollector) collectTaskMetrics() {
	tasks, err := c.manager.ListTasks()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, t := range tasks {
		counts[string(t.Outcome)]++
	}
	for outcome, count := range counts {
		metrics.TasksTotal.WithLabelValues(outcome).Set(float64(count))
	}
}

func (c *MetricsCollector) collectEventMetrics() {
	events, err := c.manager.UnprocessedExtractionEvents()
	if err != nil {
		return
	}
	metrics.UnprocessedEventsTotal.Set(float64(len(events)))
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats != nil {
		if lastIndex, ok := stats["last_log_index"].(uint64); ok {
			metrics.RaftLogIndex.Set(float64(lastIndex))
		}
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			metrics.RaftAppliedIndex.Set(float64(appliedIndex))
		}
		if peers, ok := stats["peers"].(uint64); ok {
			metrics.RaftPeers.Set(float64(peers))
		}
	}
}
