package coordinator

import (
	"fmt"

	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/taskfactory"
	"github.com/basinrun/coordinator/pkg/types"
)

// processExtractionEvents drains every event with ProcessedAt == nil at
// the moment of the call, expands each into tasks via the task factory,
// and marks it processed. Each event is processed exactly once per call;
// persistence and the processed mark are committed atomically per event
// through the replicated backend, so a retry after a crashed leader is
// safe — task ids are deterministic, so re-creating a task upserts.
//
// Returns the total number of tasks created across all drained events; a
// task id produced by more than one event in the same call counts once.
func (c *Coordinator) processExtractionEvents() (int, error) {
	store := c.mgr.Store()

	pending, err := store.UnprocessedExtractionEvents()
	if err != nil {
		return 0, fmt.Errorf("list unprocessed events: %w", errs.ErrStorageError)
	}

	created := 0
	seen := make(map[string]bool)
	for _, event := range pending {
		tasks, err := c.tasksForEvent(event)
		if err != nil {
			return created, err
		}

		if err := c.mgr.ApplyEventTasks(event.ID, tasks); err != nil {
			return created, fmt.Errorf("apply tasks for event %s: %w", event.ID, errs.ErrStorageError)
		}
		for _, t := range tasks {
			if !seen[t.ID] {
				seen[t.ID] = true
				created++
			}
		}
	}

	return created, nil
}

func (c *Coordinator) tasksForEvent(event *types.ExtractionEvent) ([]*types.Task, error) {
	store := c.mgr.Store()

	switch event.Kind {
	case types.EventKindExtractorBindingAdded:
		binding := event.Binding
		extractor, err := store.ExtractorWithName(binding.Extractor)
		if err != nil {
			return nil, fmt.Errorf("binding %q names unregistered extractor %q: %w", binding.Name, binding.Extractor, errs.ErrUnknownExtractor)
		}

		matched, err := store.ContentMatchingBinding(binding.Repository, binding)
		if err != nil {
			return nil, fmt.Errorf("content matching binding %q: %w", binding.Name, errs.ErrStorageError)
		}

		return taskfactory.Build(binding, extractor, matched)

	case types.EventKindCreateContent:
		content := event.Content
		bindings, err := store.FilterBindingsForContent(content)
		if err != nil {
			return nil, fmt.Errorf("bindings matching content %q: %w", content.ID, errs.ErrStorageError)
		}

		var tasks []*types.Task
		for _, binding := range bindings {
			extractor, err := store.ExtractorWithName(binding.Extractor)
			if err != nil {
				return nil, fmt.Errorf("binding %q names unregistered extractor %q: %w", binding.Name, binding.Extractor, errs.ErrUnknownExtractor)
			}

			built, err := taskfactory.Build(binding, extractor, []*types.ContentMetadata{content})
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, built...)
		}
		return tasks, nil

	default:
		return nil, fmt.Errorf("event %s has unknown payload kind %q", event.ID, event.Kind)
	}
}
