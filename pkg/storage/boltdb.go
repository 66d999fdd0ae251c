package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/basinrun/coordinator/pkg/filter"
	"github.com/basinrun/coordinator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRepositories = []byte("repositories")
	bucketExtractors   = []byte("extractors")
	bucketExecutors    = []byte("executors")
	bucketBindings     = []byte("bindings")
	bucketContent      = []byte("content")
	bucketEvents       = []byte("events")
	bucketTasks        = []byte("tasks")
	bucketIndexes      = []byte("indexes")
)

// BoltStore implements Store using an embedded BoltDB file. Each bucket
// holds JSON-marshaled values keyed by the entity's natural id, one
// bucket per entity type.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the coordinator's database file
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "coordinator.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRepositories,
			bucketExtractors,
			bucketExecutors,
			bucketBindings,
			bucketContent,
			bucketEvents,
			bucketTasks,
			bucketIndexes,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Repositories ---

func (s *BoltStore) CreateRepository(repo *types.Repository) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		if b.Get([]byte(repo.Name)) != nil {
			return fmt.Errorf("repository already exists: %s", repo.Name)
		}
		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		return b.Put([]byte(repo.Name), data)
	})
}

func (s *BoltStore) GetRepository(name string) (*types.Repository, error) {
	var repo types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRepositories).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("repository not found: %s", name)
		}
		return json.Unmarshal(data, &repo)
	})
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *BoltStore) ListRepositories() ([]*types.Repository, error) {
	var repos []*types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepositories).ForEach(func(k, v []byte) error {
			var repo types.Repository
			if err := json.Unmarshal(v, &repo); err != nil {
				return err
			}
			repos = append(repos, &repo)
			return nil
		})
	})
	return repos, err
}

// --- Extractors ---

func (s *BoltStore) RegisterExtractor(extractor *types.ExtractorDescription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(extractor)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketExtractors).Put([]byte(extractor.Name), data)
	})
}

func (s *BoltStore) ExtractorWithName(name string) (*types.ExtractorDescription, error) {
	var extractor types.ExtractorDescription
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketExtractors).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("extractor not found: %s", name)
		}
		return json.Unmarshal(data, &extractor)
	})
	if err != nil {
		return nil, err
	}
	return &extractor, nil
}

func (s *BoltStore) ListExtractors() ([]*types.ExtractorDescription, error) {
	var extractors []*types.ExtractorDescription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExtractors).ForEach(func(k, v []byte) error {
			var e types.ExtractorDescription
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			extractors = append(extractors, &e)
			return nil
		})
	})
	return extractors, err
}

// --- Executors ---

func (s *BoltStore) RegisterExecutor(executor *types.Executor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(executor)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketExecutors).Put([]byte(executor.ID), data)
	})
}

func (s *BoltStore) RemoveExecutor(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutors).Delete([]byte(id))
	})
}

func (s *BoltStore) GetExecutorsForExtractor(extractorName string) ([]*types.Executor, error) {
	all, err := s.ListExecutors()
	if err != nil {
		return nil, err
	}
	var matching []*types.Executor
	for _, e := range all {
		if e.Extractor == extractorName {
			matching = append(matching, e)
		}
	}
	return matching, nil
}

func (s *BoltStore) ListExecutors() ([]*types.Executor, error) {
	var executors []*types.Executor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutors).ForEach(func(k, v []byte) error {
			var e types.Executor
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			executors = append(executors, &e)
			return nil
		})
	})
	return executors, err
}

func (s *BoltStore) TouchExecutorHeartbeat(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutors)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("executor not found: %s", id)
		}
		var e types.Executor
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		e.LastHeartbeat = time.Now()
		updated, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// --- Bindings ---

func (s *BoltStore) CreateBinding(binding *types.ExtractorBinding, event *types.ExtractionEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bindings := tx.Bucket(bucketBindings)
		key := bindingKey(binding.Repository, binding.Name)
		if bindings.Get(key) != nil {
			return fmt.Errorf("binding already exists: %s/%s", binding.Repository, binding.Name)
		}

		data, err := json.Marshal(binding)
		if err != nil {
			return err
		}
		if err := bindings.Put(key, data); err != nil {
			return err
		}

		eventData, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvents).Put([]byte(event.ID), eventData)
	})
}

func (s *BoltStore) GetBinding(repository, name string) (*types.ExtractorBinding, error) {
	var binding types.ExtractorBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBindings).Get(bindingKey(repository, name))
		if data == nil {
			return fmt.Errorf("binding not found: %s/%s", repository, name)
		}
		return json.Unmarshal(data, &binding)
	})
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (s *BoltStore) ListBindings(repository string) ([]*types.ExtractorBinding, error) {
	var bindings []*types.ExtractorBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBindings).ForEach(func(k, v []byte) error {
			var b types.ExtractorBinding
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if repository == "" || b.Repository == repository {
				bindings = append(bindings, &b)
			}
			return nil
		})
	})
	return bindings, err
}

func (s *BoltStore) FilterBindingsForContent(content *types.ContentMetadata) ([]*types.ExtractorBinding, error) {
	all, err := s.ListBindings(content.Repository)
	if err != nil {
		return nil, err
	}
	var matching []*types.ExtractorBinding
	for _, b := range all {
		if filter.Matches(content, b) {
			matching = append(matching, b)
		}
	}
	return matching, nil
}

func bindingKey(repository, name string) []byte {
	return []byte(repository + "/" + name)
}

// --- Content ---

func (s *BoltStore) CreateContentBatch(content []*types.ContentMetadata, events []*types.ExtractionEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		contentBucket := tx.Bucket(bucketContent)
		for _, c := range content {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := contentBucket.Put([]byte(c.ID), data); err != nil {
				return err
			}
		}

		eventsBucket := tx.Bucket(bucketEvents)
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := eventsBucket.Put([]byte(e.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListContent(repository string) ([]*types.ContentMetadata, error) {
	var content []*types.ContentMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContent).ForEach(func(k, v []byte) error {
			var c types.ContentMetadata
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if repository == "" || c.Repository == repository {
				content = append(content, &c)
			}
			return nil
		})
	})
	return content, err
}

func (s *BoltStore) GetContentMetadataBatch(ids []string) ([]*types.ContentMetadata, error) {
	out := make([]*types.ContentMetadata, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContent)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var c types.ContentMetadata
			if err := json.Unmarshal(data, &c); err != nil {
				return err
			}
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ContentMatchingBinding(repository string, binding *types.ExtractorBinding) ([]*types.ContentMetadata, error) {
	all, err := s.ListContent(repository)
	if err != nil {
		return nil, err
	}
	var matching []*types.ContentMetadata
	for _, c := range all {
		if filter.Matches(c, binding) {
			matching = append(matching, c)
		}
	}
	return matching, nil
}

// --- Extraction events ---

func (s *BoltStore) UnprocessedExtractionEvents() ([]*types.ExtractionEvent, error) {
	var events []*types.ExtractionEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var e types.ExtractionEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ProcessedAt == nil {
				events = append(events, &e)
			}
			return nil
		})
	})
	return events, err
}

// --- Tasks ---

func (s *BoltStore) UnassignedTasks() ([]*types.Task, error) {
	all, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	var pending []*types.Task
	for _, t := range all {
		if t.ExecutorID == "" {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

func (s *BoltStore) TasksForExecutor(executorID string) ([]*types.Task, error) {
	all, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	var forExecutor []*types.Task
	for _, t := range all {
		if t.ExecutorID == executorID && t.Outcome == types.TaskOutcomeUnknown {
			forExecutor = append(forExecutor, t)
		}
	}
	return forExecutor, nil
}

func (s *BoltStore) CommitTaskAssignments(assignments map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		for taskID, executorID := range assignments {
			data := b.Get([]byte(taskID))
			if data == nil {
				return fmt.Errorf("task not found: %s", taskID)
			}
			var task types.Task
			if err := json.Unmarshal(data, &task); err != nil {
				return err
			}
			task.ExecutorID = executorID
			updated, err := json.Marshal(&task)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(taskID), updated); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ApplyEventTasks(eventID string, tasks []*types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		for _, t := range tasks {
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := taskBucket.Put([]byte(t.ID), data); err != nil {
				return err
			}
		}

		eventsBucket := tx.Bucket(bucketEvents)
		eventData := eventsBucket.Get([]byte(eventID))
		if eventData == nil {
			return fmt.Errorf("event not found: %s", eventID)
		}
		var event types.ExtractionEvent
		if err := json.Unmarshal(eventData, &event); err != nil {
			return err
		}
		now := time.Now()
		event.ProcessedAt = &now
		updated, err := json.Marshal(&event)
		if err != nil {
			return err
		}
		return eventsBucket.Put([]byte(eventID), updated)
	})
}

func (s *BoltStore) CompleteTask(taskID, executorID string, outcome types.TaskOutcome, derived []*types.ContentMetadata, derivedEvents []*types.ExtractionEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		data := taskBucket.Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("task not found: %s", taskID)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.Outcome = outcome
		updated, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := taskBucket.Put([]byte(taskID), updated); err != nil {
			return err
		}

		contentBucket := tx.Bucket(bucketContent)
		for _, c := range derived {
			cdata, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := contentBucket.Put([]byte(c.ID), cdata); err != nil {
				return err
			}
		}

		eventsBucket := tx.Bucket(bucketEvents)
		for _, e := range derivedEvents {
			edata, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := eventsBucket.Put([]byte(e.ID), edata); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task not found: %s", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
			return nil
		})
	})
	return tasks, err
}

// --- Indexes ---

func (s *BoltStore) CreateIndex(index *types.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIndexes).Put([]byte(index.ID), data)
	})
}

func (s *BoltStore) GetIndex(id string) (*types.Index, error) {
	var index types.Index
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIndexes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("index not found: %s", id)
		}
		return json.Unmarshal(data, &index)
	})
	if err != nil {
		return nil, err
	}
	return &index, nil
}

func (s *BoltStore) ListIndexes(repository string) ([]*types.Index, error) {
	var indexes []*types.Index
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).ForEach(func(k, v []byte) error {
			var idx types.Index
			if err := json.Unmarshal(v, &idx); err != nil {
				return err
			}
			if repository == "" || idx.Repository == repository {
				indexes = append(indexes, &idx)
			}
			return nil
		})
	})
	return indexes, err
}

// --- Snapshot restore ---

func (s *BoltStore) RestoreSnapshot(snap SnapshotData) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, repo := range snap.Repositories {
			data, err := json.Marshal(repo)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketRepositories).Put([]byte(repo.Name), data); err != nil {
				return err
			}
		}
		for _, extractor := range snap.Extractors {
			data, err := json.Marshal(extractor)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketExtractors).Put([]byte(extractor.Name), data); err != nil {
				return err
			}
		}
		for _, executor := range snap.Executors {
			data, err := json.Marshal(executor)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketExecutors).Put([]byte(executor.ID), data); err != nil {
				return err
			}
		}
		for _, binding := range snap.Bindings {
			data, err := json.Marshal(binding)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketBindings).Put(bindingKey(binding.Repository, binding.Name), data); err != nil {
				return err
			}
		}
		for _, c := range snap.Content {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketContent).Put([]byte(c.ID), data); err != nil {
				return err
			}
		}
		for _, e := range snap.Events {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketEvents).Put([]byte(e.ID), data); err != nil {
				return err
			}
		}
		for _, t := range snap.Tasks {
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketTasks).Put([]byte(t.ID), data); err != nil {
				return err
			}
		}
		for _, idx := range snap.Indexes {
			data, err := json.Marshal(idx)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketIndexes).Put([]byte(idx.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}
