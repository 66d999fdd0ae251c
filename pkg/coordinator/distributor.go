package coordinator

import (
	"fmt"
	"math/rand"

	"github.com/basinrun/coordinator/pkg/errs"
)

// distributeWork reads every unassigned task, picks a uniformly random
// live executor of the matching extractor kind, and commits every
// assignment decided this tick as a single atomic map. Tasks whose
// extractor kind currently has no live executors are left unassigned for
// a later tick — that is not an error, just a temporary gap in capacity.
//
// Random selection is the chosen tie-break: executors of one extractor
// kind are interchangeable, and round-robin would require tracking
// additional per-kind cursor state this package has no reason to hold.
func (c *Coordinator) distributeWork() (int, error) {
	store := c.mgr.Store()

	pending, err := store.UnassignedTasks()
	if err != nil {
		return 0, fmt.Errorf("list unassigned tasks: %w", errs.ErrStorageError)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	assignments := make(map[string]string, len(pending))
	executorsByExtractor := make(map[string][]string)

	for _, task := range pending {
		candidates, ok := executorsByExtractor[task.Extractor]
		if !ok {
			executors, err := store.GetExecutorsForExtractor(task.Extractor)
			if err != nil {
				return 0, fmt.Errorf("list executors for extractor %q: %w", task.Extractor, errs.ErrStorageError)
			}
			for _, e := range executors {
				candidates = append(candidates, e.ID)
			}
			executorsByExtractor[task.Extractor] = candidates
		}

		if len(candidates) == 0 {
			continue
		}

		assignments[task.ID] = candidates[rand.Intn(len(candidates))]
	}

	if len(assignments) == 0 {
		return 0, nil
	}

	if err := c.mgr.CommitTaskAssignments(assignments); err != nil {
		return 0, fmt.Errorf("commit task assignments: %w", errs.ErrStorageError)
	}

	return len(assignments), nil
}
