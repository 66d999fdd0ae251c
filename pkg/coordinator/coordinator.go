// Package coordinator implements the reconciliation core: the event
// processor, work distributor, completion handler, and the driver loop
// that ticks them. It is the one package that holds a backend handle onto
// the replicated state; everything else in the scheduling core is pure or
// store-only.
package coordinator

import (
	"github.com/basinrun/coordinator/pkg/events"
	"github.com/basinrun/coordinator/pkg/manager"
	"github.com/basinrun/coordinator/pkg/storage"
	"github.com/basinrun/coordinator/pkg/types"
)

// backend is the subset of *manager.Manager the coordination core
// depends on. It is an interface, not the concrete type, so the core can
// be driven against storagetest.Store in tests without a live Raft
// cluster.
type backend interface {
	Store() storage.Store
	IsLeader() bool
	LeaderCh() <-chan bool
	PublishEvent(event *events.Event)

	CreateContentBatch(content []*types.ContentMetadata, events []*types.ExtractionEvent) error
	ApplyEventTasks(eventID string, tasks []*types.Task) error
	CommitTaskAssignments(assignments map[string]string) error
	CompleteTask(taskID, executorID string, outcome types.TaskOutcome, derived []*types.ContentMetadata, derivedEvents []*types.ExtractionEvent) error

	ListRepositories() ([]*types.Repository, error)
	GetRepository(name string) (*types.Repository, error)
	ListBindings(repository string) ([]*types.ExtractorBinding, error)
	ListExtractors() ([]*types.ExtractorDescription, error)
	ExtractorWithName(name string) (*types.ExtractorDescription, error)
	ListIndexes(repository string) ([]*types.Index, error)
	GetIndex(id string) (*types.Index, error)
	ListContent(repository string) ([]*types.ContentMetadata, error)
	GetContentMetadataBatch(ids []string) ([]*types.ContentMetadata, error)
	GetExecutorsForExtractor(name string) ([]*types.Executor, error)
}

var _ backend = (*manager.Manager)(nil)

// Coordinator is a process-wide handle that holds no mutable fields of
// its own: every mutation and read delegates to the backend's replicated
// store, which is what makes it safe to share across RPC handlers and the
// driver goroutine without locks of its own.
type Coordinator struct {
	mgr    backend
	driver *Driver
}

// New creates a Coordinator bound to mgr. Call Start to begin driving
// reconciliation ticks once mgr's Raft instance is running.
func New(mgr *manager.Manager) *Coordinator {
	return newCoordinator(mgr)
}

func newCoordinator(b backend) *Coordinator {
	c := &Coordinator{mgr: b}
	c.driver = NewDriver(c)
	return c
}

// Start begins the reconciliation driver loop.
func (c *Coordinator) Start() {
	c.driver.Start()
}

// Stop stops the reconciliation driver loop.
func (c *Coordinator) Stop() {
	c.driver.Stop()
}

// Wake requests an out-of-band driver tick, coalesced with any pending
// request. Callers that just committed a state-change (admission,
// completion, content ingestion) call this so the driver does not wait
// for its next safety-net timer.
func (c *Coordinator) Wake() {
	c.driver.Wake()
}
