package coordinator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/basinrun/coordinator/pkg/events"
	"github.com/basinrun/coordinator/pkg/hashid"
	"github.com/basinrun/coordinator/pkg/storage"
	"github.com/basinrun/coordinator/pkg/storage/storagetest"
	"github.com/basinrun/coordinator/pkg/types"
)

// fakeBackend adapts storagetest.Store to the backend interface so these
// tests can exercise reconciliation logic without a live Raft cluster.
type fakeBackend struct {
	store *storagetest.Store
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{store: storagetest.New()}
}

func (f *fakeBackend) Store() storage.Store             { return f.store }
func (f *fakeBackend) IsLeader() bool                   { return true }
func (f *fakeBackend) LeaderCh() <-chan bool            { return nil }
func (f *fakeBackend) PublishEvent(event *events.Event) {}

func (f *fakeBackend) CreateContentBatch(content []*types.ContentMetadata, evts []*types.ExtractionEvent) error {
	return f.store.CreateContentBatch(content, evts)
}

func (f *fakeBackend) ApplyEventTasks(eventID string, tasks []*types.Task) error {
	return f.store.ApplyEventTasks(eventID, tasks)
}

func (f *fakeBackend) CommitTaskAssignments(assignments map[string]string) error {
	return f.store.CommitTaskAssignments(assignments)
}

func (f *fakeBackend) CompleteTask(taskID, executorID string, outcome types.TaskOutcome, derived []*types.ContentMetadata, derivedEvents []*types.ExtractionEvent) error {
	return f.store.CompleteTask(taskID, executorID, outcome, derived, derivedEvents)
}

func (f *fakeBackend) ListRepositories() ([]*types.Repository, error) { return f.store.ListRepositories() }
func (f *fakeBackend) GetRepository(name string) (*types.Repository, error) {
	return f.store.GetRepository(name)
}
func (f *fakeBackend) ListBindings(repository string) ([]*types.ExtractorBinding, error) {
	return f.store.ListBindings(repository)
}
func (f *fakeBackend) ListExtractors() ([]*types.ExtractorDescription, error) {
	return f.store.ListExtractors()
}
func (f *fakeBackend) ExtractorWithName(name string) (*types.ExtractorDescription, error) {
	return f.store.ExtractorWithName(name)
}
func (f *fakeBackend) ListIndexes(repository string) ([]*types.Index, error) {
	return f.store.ListIndexes(repository)
}
func (f *fakeBackend) GetIndex(id string) (*types.Index, error) { return f.store.GetIndex(id) }
func (f *fakeBackend) ListContent(repository string) ([]*types.ContentMetadata, error) {
	return f.store.ListContent(repository)
}
func (f *fakeBackend) GetContentMetadataBatch(ids []string) ([]*types.ContentMetadata, error) {
	return f.store.GetContentMetadataBatch(ids)
}
func (f *fakeBackend) GetExecutorsForExtractor(name string) ([]*types.Executor, error) {
	return f.store.GetExecutorsForExtractor(name)
}

func newTestCoordinator() (*Coordinator, *fakeBackend) {
	fb := newFakeBackend()
	return newCoordinator(fb), fb
}

func extractorX() *types.ExtractorDescription {
	return &types.ExtractorDescription{
		Name:        "X",
		InputParams: json.RawMessage(`{}`),
		Outputs:     map[string]types.OutputKind{"o": types.OutputKindEmbedding},
	}
}

func ingestEvent(content *types.ContentMetadata) *types.ExtractionEvent {
	return &types.ExtractionEvent{
		ID:         "evt-" + content.ID,
		Repository: content.Repository,
		Kind:       types.EventKindCreateContent,
		Content:    content,
		CreatedAt:  time.Now(),
	}
}

func bindingAddedEvent(binding *types.ExtractorBinding) *types.ExtractionEvent {
	return &types.ExtractionEvent{
		ID:         "evt-binding-" + binding.Name,
		Repository: binding.Repository,
		Kind:       types.EventKindExtractorBindingAdded,
		Binding:    binding,
		CreatedAt:  time.Now(),
	}
}

// S1 — Empty binding set: one event processed, zero tasks, zero assignments.
func TestScenario_S1_EmptyBindingSet(t *testing.T) {
	c, fb := newTestCoordinator()

	if err := fb.store.CreateRepository(&types.Repository{Name: "r"}); err != nil {
		t.Fatal(err)
	}
	c1 := &types.ContentMetadata{ID: "c1", Repository: "r", Source: types.ContentSourceIngestion}
	if err := fb.store.CreateContentBatch([]*types.ContentMetadata{c1}, []*types.ExtractionEvent{ingestEvent(c1)}); err != nil {
		t.Fatal(err)
	}

	created, err := c.processExtractionEvents()
	if err != nil {
		t.Fatalf("processExtractionEvents() error = %v", err)
	}
	if created != 0 {
		t.Errorf("tasks created = %d, want 0", created)
	}

	assigned, err := c.distributeWork()
	if err != nil {
		t.Fatalf("distributeWork() error = %v", err)
	}
	if assigned != 0 {
		t.Errorf("tasks assigned = %d, want 0", assigned)
	}

	pending, _ := fb.store.UnprocessedExtractionEvents()
	if len(pending) != 0 {
		t.Errorf("unprocessed events = %d, want 0", len(pending))
	}
}

// S2 — Backfill on binding: registering a binding after content exists
// schedules exactly one task for the existing content, assigned to the
// one live executor.
func TestScenario_S2_BackfillOnBinding(t *testing.T) {
	c, fb := newTestCoordinator()

	if err := fb.store.CreateRepository(&types.Repository{Name: "r"}); err != nil {
		t.Fatal(err)
	}
	c1 := &types.ContentMetadata{ID: "c1", Repository: "r", Source: types.ContentSourceIngestion}
	if err := fb.store.CreateContentBatch([]*types.ContentMetadata{c1}, nil); err != nil {
		t.Fatal(err)
	}
	if err := fb.store.RegisterExtractor(extractorX()); err != nil {
		t.Fatal(err)
	}
	if err := fb.store.RegisterExecutor(&types.Executor{ID: "e1", Addr: "localhost:8956", Extractor: "X"}); err != nil {
		t.Fatal(err)
	}

	binding := &types.ExtractorBinding{
		Name:                   "b",
		Repository:             "r",
		Extractor:              "X",
		ContentSource:          types.ContentSourceIngestion,
		Filters:                map[string]string{},
		InputParams:            map[string]interface{}{},
		OutputIndexNameMapping: map[string]string{"o": "r.o"},
		IndexNameTableMapping:  map[string]string{"r.o": "r.b.r.o"},
	}
	if err := fb.store.CreateBinding(binding, bindingAddedEvent(binding)); err != nil {
		t.Fatal(err)
	}

	if _, err := c.processExtractionEvents(); err != nil {
		t.Fatalf("processExtractionEvents() error = %v", err)
	}
	if _, err := c.distributeWork(); err != nil {
		t.Fatalf("distributeWork() error = %v", err)
	}

	wantID := hashid.TaskID("b", "r", "c1")
	task, err := fb.store.GetTask(wantID)
	if err != nil {
		t.Fatalf("task %s not found: %v", wantID, err)
	}
	if task.ExecutorID != "e1" {
		t.Errorf("task.ExecutorID = %q, want e1", task.ExecutorID)
	}
	if task.Outcome != types.TaskOutcomeUnknown {
		t.Errorf("task.Outcome = %q, want Unknown", task.Outcome)
	}
}

// S3 — Source mismatch: content from a different source produces no task.
func TestScenario_S3_SourceMismatch(t *testing.T) {
	c, fb := newTestCoordinator()

	mustSetupS2Binding(t, fb)
	if _, err := c.processExtractionEvents(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.distributeWork(); err != nil {
		t.Fatal(err)
	}

	c2 := &types.ContentMetadata{ID: "c2", Repository: "r", ParentID: "c1", Source: "some_other_binding"}
	if err := fb.store.CreateContentBatch([]*types.ContentMetadata{c2}, []*types.ExtractionEvent{ingestEvent(c2)}); err != nil {
		t.Fatal(err)
	}

	created, err := c.processExtractionEvents()
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("tasks created for mismatched source = %d, want 0", created)
	}

	pending, _ := fb.store.UnprocessedExtractionEvents()
	if len(pending) != 0 {
		t.Errorf("unprocessed events = %d, want 0 (event must still be marked processed)", len(pending))
	}
}

// S4 — Derived content chains: completing a task with derived content
// that feeds a second binding schedules exactly one downstream task.
func TestScenario_S4_DerivedContentChains(t *testing.T) {
	c, fb := newTestCoordinator()

	mustSetupS2Binding(t, fb)
	if _, err := c.processExtractionEvents(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.distributeWork(); err != nil {
		t.Fatal(err)
	}

	binding2 := &types.ExtractorBinding{
		Name:                   "b2",
		Repository:             "r",
		Extractor:              "X",
		ContentSource:          "b",
		Filters:                map[string]string{},
		InputParams:            map[string]interface{}{},
		OutputIndexNameMapping: map[string]string{"o": "r.o2"},
		IndexNameTableMapping:  map[string]string{"r.o2": "r.b2.r.o2"},
	}
	if err := fb.store.CreateBinding(binding2, bindingAddedEvent(binding2)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.processExtractionEvents(); err != nil {
		t.Fatal(err)
	}

	taskID := hashid.TaskID("b", "r", "c1")
	derived := &types.ContentMetadata{ID: "c1.d1", Repository: "r", Source: "b", ParentID: "c1"}
	if err := c.CompleteTask(taskID, "e1", types.TaskOutcomeSuccess, []*types.ContentMetadata{derived}); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	created, err := c.processExtractionEvents()
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Fatalf("tasks created on next tick = %d, want 1", created)
	}

	wantID := hashid.TaskID("b2", "r", "c1.d1")
	if _, err := fb.store.GetTask(wantID); err != nil {
		t.Errorf("expected downstream task %s: %v", wantID, err)
	}
}

// Invariant 1: replaying process_extraction_events never double-schedules.
func TestInvariant_DeterministicTaskIDPreventsDuplicate(t *testing.T) {
	c, fb := newTestCoordinator()
	mustSetupS2Binding(t, fb)

	if _, err := c.processExtractionEvents(); err != nil {
		t.Fatal(err)
	}
	before, _ := fb.store.ListTasks()

	// Re-running with no new events is a no-op: no new events exist, so a
	// second call processes nothing.
	created, err := c.processExtractionEvents()
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("second call created %d tasks, want 0 (no unprocessed events left)", created)
	}

	after, _ := fb.store.ListTasks()
	if len(before) != len(after) {
		t.Errorf("task count changed across idempotent re-run: %d -> %d", len(before), len(after))
	}
}

// Boundary: an admitted binding with filters={} matches every content
// whose source equals the binding's content_source.
func TestBoundary_EmptyFiltersMatchesEverything(t *testing.T) {
	c, fb := newTestCoordinator()
	mustSetupS2Binding(t, fb)

	c2 := &types.ContentMetadata{
		ID: "c2", Repository: "r", Source: types.ContentSourceIngestion,
		Labels: map[string]string{"unrelated": "label"},
	}
	if err := fb.store.CreateContentBatch([]*types.ContentMetadata{c2}, []*types.ExtractionEvent{ingestEvent(c2)}); err != nil {
		t.Fatal(err)
	}

	created, err := c.processExtractionEvents()
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Fatalf("tasks created = %d, want 2 (one task each for c1 and c2)", created)
	}
}

// Boundary: GetExtractorCoordinates for an unknown extractor returns an
// empty list, not an error.
func TestBoundary_UnknownExtractorCoordinatesEmpty(t *testing.T) {
	c, _ := newTestCoordinator()

	addrs, err := c.GetExtractorCoordinates("does-not-exist")
	if err != nil {
		t.Fatalf("GetExtractorCoordinates() error = %v", err)
	}
	if len(addrs) != 0 {
		t.Errorf("addrs = %v, want empty", addrs)
	}
}

func mustSetupS2Binding(t *testing.T, fb *fakeBackend) {
	t.Helper()
	if err := fb.store.CreateRepository(&types.Repository{Name: "r"}); err != nil {
		t.Fatal(err)
	}
	c1 := &types.ContentMetadata{ID: "c1", Repository: "r", Source: types.ContentSourceIngestion}
	if err := fb.store.CreateContentBatch([]*types.ContentMetadata{c1}, nil); err != nil {
		t.Fatal(err)
	}
	if err := fb.store.RegisterExtractor(extractorX()); err != nil {
		t.Fatal(err)
	}
	if err := fb.store.RegisterExecutor(&types.Executor{ID: "e1", Addr: "localhost:8956", Extractor: "X"}); err != nil {
		t.Fatal(err)
	}
	binding := &types.ExtractorBinding{
		Name:                   "b",
		Repository:             "r",
		Extractor:              "X",
		ContentSource:          types.ContentSourceIngestion,
		Filters:                map[string]string{},
		InputParams:            map[string]interface{}{},
		OutputIndexNameMapping: map[string]string{"o": "r.o"},
		IndexNameTableMapping:  map[string]string{"r.o": "r.b.r.o"},
	}
	if err := fb.store.CreateBinding(binding, bindingAddedEvent(binding)); err != nil {
		t.Fatal(err)
	}
}
