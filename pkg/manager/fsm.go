package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/basinrun/coordinator/pkg/storage"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/hashicorp/raft"
)

// CoordinatorFSM implements the Raft finite state machine for the
// coordinator's scheduling state. Every mutation to repositories,
// extractors, executors, bindings, content, tasks and indexes is applied
// here, once the owning log entry has committed to a quorum.
type CoordinatorFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewCoordinatorFSM creates a new FSM instance.
func NewCoordinatorFSM(store storage.Store) *CoordinatorFSM {
	return &CoordinatorFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// applyBindingPayload is the Data shape for the apply_binding command.
type applyBindingPayload struct {
	Binding *types.ExtractorBinding `json:"binding"`
	Event   *types.ExtractionEvent  `json:"event"`
}

// createContentBatchPayload is the Data shape for create_content_batch.
type createContentBatchPayload struct {
	Content []*types.ContentMetadata `json:"content"`
	Events  []*types.ExtractionEvent `json:"events"`
}

// applyEventTasksPayload is the Data shape for apply_event_tasks.
type applyEventTasksPayload struct {
	EventID string        `json:"event_id"`
	Tasks   []*types.Task `json:"tasks"`
}

// commitAssignmentsPayload is the Data shape for commit_task_assignments.
type commitAssignmentsPayload struct {
	Assignments map[string]string `json:"assignments"`
}

// completeTaskPayload is the Data shape for complete_task.
type completeTaskPayload struct {
	TaskID        string                   `json:"task_id"`
	ExecutorID    string                   `json:"executor_id"`
	Outcome       types.TaskOutcome        `json:"outcome"`
	Derived       []*types.ContentMetadata `json:"derived"`
	DerivedEvents []*types.ExtractionEvent `json:"derived_events"`
}

// Apply applies a committed Raft log entry to the FSM.
func (f *CoordinatorFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_repository":
		var repo types.Repository
		if err := json.Unmarshal(cmd.Data, &repo); err != nil {
			return err
		}
		return f.store.CreateRepository(&repo)

	case "register_extractor":
		var extractor types.ExtractorDescription
		if err := json.Unmarshal(cmd.Data, &extractor); err != nil {
			return err
		}
		return f.store.RegisterExtractor(&extractor)

	case "register_executor":
		var executor types.Executor
		if err := json.Unmarshal(cmd.Data, &executor); err != nil {
			return err
		}
		return f.store.RegisterExecutor(&executor)

	case "remove_executor":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.RemoveExecutor(id)

	case "touch_executor_heartbeat":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.TouchExecutorHeartbeat(id)

	case "apply_binding":
		var p applyBindingPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.CreateBinding(p.Binding, p.Event)

	case "create_content_batch":
		var p createContentBatchPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.CreateContentBatch(p.Content, p.Events)

	case "apply_event_tasks":
		var p applyEventTasksPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.ApplyEventTasks(p.EventID, p.Tasks)

	case "commit_task_assignments":
		var p commitAssignmentsPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.CommitTaskAssignments(p.Assignments)

	case "complete_task":
		var p completeTaskPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.CompleteTask(p.TaskID, p.ExecutorID, p.Outcome, p.Derived, p.DerivedEvents)

	case "create_index":
		var index types.Index
		if err := json.Unmarshal(cmd.Data, &index); err != nil {
			return err
		}
		return f.store.CreateIndex(&index)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM, used by Raft to
// compact the log.
func (f *CoordinatorFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	repositories, err := f.store.ListRepositories()
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	extractors, err := f.store.ListExtractors()
	if err != nil {
		return nil, fmt.Errorf("list extractors: %w", err)
	}
	executors, err := f.store.ListExecutors()
	if err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	bindings, err := f.store.ListBindings("")
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	content, err := f.store.ListContent("")
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	events, err := f.store.UnprocessedExtractionEvents()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	tasks, err := f.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	indexes, err := f.store.ListIndexes("")
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}

	snapshot := &Snapshot{
		Repositories: repositories,
		Extractors:   extractors,
		Executors:    executors,
		Bindings:     bindings,
		Content:      content,
		Events:       events,
		Tasks:        tasks,
		Indexes:      indexes,
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot, used when a node restarts or
// joins the cluster.
func (f *CoordinatorFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.store.RestoreSnapshot(storage.SnapshotData{
		Repositories: snapshot.Repositories,
		Extractors:   snapshot.Extractors,
		Executors:    snapshot.Executors,
		Bindings:     snapshot.Bindings,
		Content:      snapshot.Content,
		Events:       snapshot.Events,
		Tasks:        snapshot.Tasks,
		Indexes:      snapshot.Indexes,
	})
}

// Snapshot represents a point-in-time snapshot of coordinator state.
type Snapshot struct {
	Repositories []*types.Repository
	Extractors   []*types.ExtractorDescription
	Executors    []*types.Executor
	Bindings     []*types.ExtractorBinding
	Content      []*types.ContentMetadata
	Events       []*types.ExtractionEvent
	Tasks        []*types.Task
	Indexes      []*types.Index
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources.
func (s *Snapshot) Release() {}
