package coordinator

import (
	"sync"
	"time"

	"github.com/basinrun/coordinator/pkg/log"
	"github.com/basinrun/coordinator/pkg/metrics"
	"github.com/rs/zerolog"
)

// tickInterval is the low-frequency safety net: the driver also ticks on
// every Wake() call, so this only matters if a state-change notification
// is ever missed.
const tickInterval = 5 * time.Second

// Driver runs the reconciliation loop: process_extraction_events then
// distribute_work, sequentially, under a single mutex so parallel
// ticks can never race on event draining. Only the current leader ticks;
// followers idle on the leader-change channel and start ticking the
// moment they observe leadership.
type Driver struct {
	c      *Coordinator
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wakeCh chan struct{}
}

// NewDriver creates a driver bound to c.
func NewDriver(c *Coordinator) *Driver {
	return &Driver{
		c:      c,
		logger: log.WithComponent("driver"),
		stopCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
}

// Start begins the driver's run loop in the background.
func (d *Driver) Start() {
	go d.run()
}

// Stop stops the driver's run loop.
func (d *Driver) Stop() {
	close(d.stopCh)
}

// Wake requests an out-of-band tick. Multiple calls before the driver
// gets to run coalesce into a single tick.
func (d *Driver) Wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *Driver) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	leaderCh := d.c.mgr.LeaderCh()
	isLeader := d.c.mgr.IsLeader()

	for {
		select {
		case leader, ok := <-leaderCh:
			if !ok {
				leaderCh = nil
				continue
			}
			isLeader = leader
			if isLeader {
				d.logger.Info().Msg("observed leadership, starting to drive reconciliation")
				d.tick()
			}
		case <-ticker.C:
			if isLeader {
				d.tick()
			}
		case <-d.wakeCh:
			if isLeader {
				d.tick()
			}
		case <-d.stopCh:
			return
		}
	}
}

func (d *Driver) tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DriverTickDuration)
	metrics.DriverTicksTotal.Inc()

	phase := metrics.NewTimer()
	created, err := d.c.processExtractionEvents()
	phase.ObserveDuration(metrics.EventProcessingDuration)
	metrics.TasksCreatedTotal.Add(float64(created))
	if err != nil {
		d.logger.Error().Err(err).Msg("event processing failed, tick aborted")
		return
	}

	phase = metrics.NewTimer()
	assigned, err := d.c.distributeWork()
	phase.ObserveDuration(metrics.DistributionDuration)
	if err != nil {
		d.logger.Error().Err(err).Msg("work distribution failed")
		return
	}
	metrics.TasksAssignedTotal.Add(float64(assigned))

	if created > 0 || assigned > 0 {
		d.logger.Info().
			Int("tasks_created", created).
			Int("tasks_assigned", assigned).
			Msg("driver tick complete")
	}
}
