// Package storagetest provides an in-memory storage.Store for fast,
// deterministic tests of the scheduling core, without a live manager or
// BoltDB file on disk.
package storagetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/basinrun/coordinator/pkg/filter"
	"github.com/basinrun/coordinator/pkg/storage"
	"github.com/basinrun/coordinator/pkg/types"
)

// Store is a non-persistent storage.Store backed by plain maps guarded by
// a single mutex. It is not meant to be fast under contention — only
// simple and obviously correct.
type Store struct {
	mu sync.Mutex

	repositories map[string]*types.Repository
	extractors   map[string]*types.ExtractorDescription
	executors    map[string]*types.Executor
	bindings     map[string]*types.ExtractorBinding // keyed by repo/name
	content      map[string]*types.ContentMetadata
	events       map[string]*types.ExtractionEvent
	tasks        map[string]*types.Task
	indexes      map[string]*types.Index
}

// New returns an empty fake store.
func New() *Store {
	return &Store{
		repositories: map[string]*types.Repository{},
		extractors:   map[string]*types.ExtractorDescription{},
		executors:    map[string]*types.Executor{},
		bindings:     map[string]*types.ExtractorBinding{},
		content:      map[string]*types.ContentMetadata{},
		events:       map[string]*types.ExtractionEvent{},
		tasks:        map[string]*types.Task{},
		indexes:      map[string]*types.Index{},
	}
}

func bindingKey(repository, name string) string { return repository + "/" + name }

func (s *Store) CreateRepository(repo *types.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repositories[repo.Name]; ok {
		return fmt.Errorf("repository already exists: %s", repo.Name)
	}
	cp := *repo
	s.repositories[repo.Name] = &cp
	return nil
}

func (s *Store) GetRepository(name string) (*types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repositories[name]
	if !ok {
		return nil, fmt.Errorf("repository not found: %s", name)
	}
	return r, nil
}

func (s *Store) ListRepositories() ([]*types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Repository, 0, len(s.repositories))
	for _, r := range s.repositories {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) RegisterExtractor(extractor *types.ExtractorDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *extractor
	s.extractors[extractor.Name] = &cp
	return nil
}

func (s *Store) ExtractorWithName(name string) (*types.ExtractorDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.extractors[name]
	if !ok {
		return nil, fmt.Errorf("extractor not found: %s", name)
	}
	return e, nil
}

func (s *Store) ListExtractors() ([]*types.ExtractorDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.ExtractorDescription, 0, len(s.extractors))
	for _, e := range s.extractors {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) RegisterExecutor(executor *types.Executor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *executor
	s.executors[executor.ID] = &cp
	return nil
}

func (s *Store) RemoveExecutor(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.executors, id)
	return nil
}

func (s *Store) GetExecutorsForExtractor(extractorName string) ([]*types.Executor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Executor
	for _, e := range s.executors {
		if e.Extractor == extractorName {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListExecutors() ([]*types.Executor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Executor, 0, len(s.executors))
	for _, e := range s.executors {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) TouchExecutorHeartbeat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executors[id]
	if !ok {
		return fmt.Errorf("executor not found: %s", id)
	}
	e.LastHeartbeat = time.Now()
	return nil
}

func (s *Store) CreateBinding(binding *types.ExtractorBinding, event *types.ExtractionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey(binding.Repository, binding.Name)
	if _, ok := s.bindings[key]; ok {
		return fmt.Errorf("binding already exists: %s", key)
	}
	cp := *binding
	s.bindings[key] = &cp
	ecp := *event
	s.events[event.ID] = &ecp
	return nil
}

func (s *Store) GetBinding(repository, name string) (*types.ExtractorBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[bindingKey(repository, name)]
	if !ok {
		return nil, fmt.Errorf("binding not found: %s/%s", repository, name)
	}
	return b, nil
}

func (s *Store) ListBindings(repository string) ([]*types.ExtractorBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ExtractorBinding
	for _, b := range s.bindings {
		if repository == "" || b.Repository == repository {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) FilterBindingsForContent(content *types.ContentMetadata) ([]*types.ExtractorBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ExtractorBinding
	for _, b := range s.bindings {
		if filter.Matches(content, b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) CreateContentBatch(content []*types.ContentMetadata, events []*types.ExtractionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range content {
		cp := *c
		s.content[c.ID] = &cp
	}
	for _, e := range events {
		ecp := *e
		s.events[e.ID] = &ecp
	}
	return nil
}

func (s *Store) ListContent(repository string) ([]*types.ContentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ContentMetadata
	for _, c := range s.content {
		if repository == "" || c.Repository == repository {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetContentMetadataBatch(ids []string) ([]*types.ContentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.ContentMetadata, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.content[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ContentMatchingBinding(repository string, binding *types.ExtractorBinding) ([]*types.ContentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ContentMetadata
	for _, c := range s.content {
		if c.Repository == repository && filter.Matches(c, binding) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) UnprocessedExtractionEvents() ([]*types.ExtractionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ExtractionEvent
	for _, e := range s.events {
		if e.ProcessedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) UnassignedTasks() ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		if t.ExecutorID == "" {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) TasksForExecutor(executorID string) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		if t.ExecutorID == executorID && t.Outcome == types.TaskOutcomeUnknown {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) CommitTaskAssignments(assignments map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for taskID, executorID := range assignments {
		t, ok := s.tasks[taskID]
		if !ok {
			return fmt.Errorf("task not found: %s", taskID)
		}
		t.ExecutorID = executorID
	}
	return nil
}

func (s *Store) ApplyEventTasks(eventID string, tasks []*types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		cp := *t
		s.tasks[t.ID] = &cp
	}
	e, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("event not found: %s", eventID)
	}
	now := time.Now()
	e.ProcessedAt = &now
	return nil
}

func (s *Store) CompleteTask(taskID, executorID string, outcome types.TaskOutcome, derived []*types.ContentMetadata, derivedEvents []*types.ExtractionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	t.Outcome = outcome
	for _, c := range derived {
		cp := *c
		s.content[c.ID] = &cp
	}
	for _, e := range derivedEvents {
		ecp := *e
		s.events[e.ID] = &ecp
	}
	return nil
}

func (s *Store) GetTask(id string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return t, nil
}

func (s *Store) ListTasks() ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CreateIndex(index *types.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *index
	s.indexes[index.ID] = &cp
	return nil
}

func (s *Store) GetIndex(id string) (*types.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[id]
	if !ok {
		return nil, fmt.Errorf("index not found: %s", id)
	}
	return idx, nil
}

func (s *Store) ListIndexes(repository string) ([]*types.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Index
	for _, idx := range s.indexes {
		if repository == "" || idx.Repository == repository {
			out = append(out, idx)
		}
	}
	return out, nil
}

func (s *Store) RestoreSnapshot(snap storage.SnapshotData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range snap.Repositories {
		cp := *r
		s.repositories[r.Name] = &cp
	}
	for _, e := range snap.Extractors {
		cp := *e
		s.extractors[e.Name] = &cp
	}
	for _, e := range snap.Executors {
		cp := *e
		s.executors[e.ID] = &cp
	}
	for _, b := range snap.Bindings {
		cp := *b
		s.bindings[bindingKey(b.Repository, b.Name)] = &cp
	}
	for _, c := range snap.Content {
		cp := *c
		s.content[c.ID] = &cp
	}
	for _, e := range snap.Events {
		cp := *e
		s.events[e.ID] = &cp
	}
	for _, t := range snap.Tasks {
		cp := *t
		s.tasks[t.ID] = &cp
	}
	for _, idx := range snap.Indexes {
		cp := *idx
		s.indexes[idx.ID] = &cp
	}
	return nil
}

func (s *Store) Close() error { return nil }
