package coordinator

import (
	"fmt"
	"time"

	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/google/uuid"
)

// CompleteTask records a task's outcome and ingests every piece of
// content the executor derived as a new CreateContent event, atomically.
// The driver picks up the new events on its next tick — they are never
// processed in the same tick that produced them.
func (c *Coordinator) CompleteTask(taskID, executorID string, outcome types.TaskOutcome, derived []*types.ContentMetadata) error {
	events := make([]*types.ExtractionEvent, 0, len(derived))
	for _, content := range derived {
		events = append(events, &types.ExtractionEvent{
			ID:         uuid.New().String(),
			Repository: content.Repository,
			Kind:       types.EventKindCreateContent,
			Content:    content,
			CreatedAt:  time.Now(),
		})
	}

	if err := c.mgr.CompleteTask(taskID, executorID, outcome, derived, events); err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, errs.ErrStorageError)
	}

	c.Wake()
	return nil
}

// IngestContent persists newly ingested content (source "ingestion") and
// raises the CreateContent event each one triggers.
func (c *Coordinator) IngestContent(content []*types.ContentMetadata) error {
	events := make([]*types.ExtractionEvent, 0, len(content))
	for _, item := range content {
		events = append(events, &types.ExtractionEvent{
			ID:         uuid.New().String(),
			Repository: item.Repository,
			Kind:       types.EventKindCreateContent,
			Content:    item,
			CreatedAt:  time.Now(),
		})
	}

	if err := c.mgr.CreateContentBatch(content, events); err != nil {
		return fmt.Errorf("ingest content: %w", errs.ErrStorageError)
	}

	c.Wake()
	return nil
}
