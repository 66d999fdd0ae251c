package storage

import "github.com/basinrun/coordinator/pkg/types"

// Store is the replicated state-store contract the coordinator's
// scheduling core consumes. It is implemented by BoltStore and, for
// tests, by an in-memory fake under storagetest.
type Store interface {
	// Repositories
	CreateRepository(repo *types.Repository) error
	GetRepository(name string) (*types.Repository, error)
	ListRepositories() ([]*types.Repository, error)

	// Extractors
	RegisterExtractor(extractor *types.ExtractorDescription) error
	ExtractorWithName(name string) (*types.ExtractorDescription, error)
	ListExtractors() ([]*types.ExtractorDescription, error)

	// Executors
	RegisterExecutor(executor *types.Executor) error
	RemoveExecutor(id string) error
	GetExecutorsForExtractor(extractorName string) ([]*types.Executor, error)
	ListExecutors() ([]*types.Executor, error)
	TouchExecutorHeartbeat(id string) error

	// Bindings
	CreateBinding(binding *types.ExtractorBinding, event *types.ExtractionEvent) error
	GetBinding(repository, name string) (*types.ExtractorBinding, error)
	ListBindings(repository string) ([]*types.ExtractorBinding, error)
	FilterBindingsForContent(content *types.ContentMetadata) ([]*types.ExtractorBinding, error)

	// Content
	CreateContentBatch(content []*types.ContentMetadata, events []*types.ExtractionEvent) error
	ListContent(repository string) ([]*types.ContentMetadata, error)
	GetContentMetadataBatch(ids []string) ([]*types.ContentMetadata, error)
	ContentMatchingBinding(repository string, binding *types.ExtractorBinding) ([]*types.ContentMetadata, error)

	// Extraction events
	UnprocessedExtractionEvents() ([]*types.ExtractionEvent, error)

	// Tasks
	UnassignedTasks() ([]*types.Task, error)
	TasksForExecutor(executorID string) ([]*types.Task, error)
	CommitTaskAssignments(assignments map[string]string) error

	// ApplyEventTasks atomically persists tasks created from one event
	// (upsert by task id) and marks that event processed. This is the
	// FSM-level grouping of create_tasks + mark_extraction_event_processed
	// that must commit together.
	ApplyEventTasks(eventID string, tasks []*types.Task) error

	// CompleteTask atomically records outcome for taskID, persists every
	// derived content item and its CreateContent event, and drops taskID
	// from the executor's pending index.
	CompleteTask(taskID, executorID string, outcome types.TaskOutcome, derived []*types.ContentMetadata, derivedEvents []*types.ExtractionEvent) error

	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)

	// Indexes
	CreateIndex(index *types.Index) error
	GetIndex(id string) (*types.Index, error)
	ListIndexes(repository string) ([]*types.Index, error)

	// RestoreSnapshot replaces the entire store contents with a Raft
	// snapshot, bypassing the per-entity invariants CreateX/ApplyX enforce
	// (duplicate checks, event synthesis) since a snapshot is already a
	// consistent point-in-time state rather than a new mutation.
	RestoreSnapshot(s SnapshotData) error

	Close() error
}

// SnapshotData is the full state restored from a Raft snapshot.
type SnapshotData struct {
	Repositories []*types.Repository
	Extractors   []*types.ExtractorDescription
	Executors    []*types.Executor
	Bindings     []*types.ExtractorBinding
	Content      []*types.ContentMetadata
	Events       []*types.ExtractionEvent
	Tasks        []*types.Task
	Indexes      []*types.Index
}
