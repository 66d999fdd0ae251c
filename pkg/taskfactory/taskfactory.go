package taskfactory

import (
	"fmt"
	"time"

	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/hashid"
	"github.com/basinrun/coordinator/pkg/types"
)

// Build synthesizes one task per content item in matched, all produced by
// applying binding to extractor. Task ids are deterministic (hashid.TaskID),
// so calling Build twice with the same inputs yields tasks with identical
// ids (CreatedAt differs) — the upsert the event processor relies on for
// crash safety.
//
// If the binding's output mapping cannot be resolved for any declared
// output, the whole call fails with errs.ErrMissingMapping: a malformed
// binding should have been rejected at admission.
func Build(binding *types.ExtractorBinding, extractor *types.ExtractorDescription, matched []*types.ContentMetadata) ([]*types.Task, error) {
	tableMapping, err := resolveOutputTables(binding, extractor)
	if err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0, len(matched))
	for _, content := range matched {
		tasks = append(tasks, &types.Task{
			ID:                      hashid.TaskID(binding.Name, binding.Repository, content.ID),
			Extractor:               binding.Extractor,
			ExtractorBinding:        binding.Name,
			Repository:              binding.Repository,
			ContentMetadata:         *content,
			InputParams:             binding.InputParams,
			OutputIndexTableMapping: tableMapping,
			Outcome:                 types.TaskOutcomeUnknown,
			CreatedAt:               time.Now(),
		})
	}
	return tasks, nil
}

// resolveOutputTables follows, for every output slot the extractor
// declares, binding.output_index_name_mapping then
// binding.index_name_table_mapping to a concrete table name.
func resolveOutputTables(binding *types.ExtractorBinding, extractor *types.ExtractorDescription) (map[string]string, error) {
	resolved := make(map[string]string, len(extractor.Outputs))
	for slot := range extractor.Outputs {
		indexName, ok := binding.OutputIndexNameMapping[slot]
		if !ok {
			return nil, fmt.Errorf("binding %q has no index mapping for output %q: %w", binding.Name, slot, errs.ErrMissingMapping)
		}
		table, ok := binding.IndexNameTableMapping[indexName]
		if !ok {
			return nil, fmt.Errorf("binding %q has no table mapping for index %q: %w", binding.Name, indexName, errs.ErrMissingMapping)
		}
		resolved[slot] = table
	}
	return resolved, nil
}
