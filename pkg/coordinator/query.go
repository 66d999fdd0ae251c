package coordinator

import (
	"fmt"

	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/filter"
	"github.com/basinrun/coordinator/pkg/hashid"
	"github.com/basinrun/coordinator/pkg/types"
)

// Read-only pass-throughs over the replicated store. None of these
// mutate state, so they may run concurrently with the driver and with
// each other; the store is what serializes any interleaving that matters.

func (c *Coordinator) ListRepositories() ([]*types.Repository, error) {
	return c.mgr.ListRepositories()
}

func (c *Coordinator) GetRepository(name string) (*types.Repository, error) {
	return c.mgr.GetRepository(name)
}

func (c *Coordinator) ListBindings(repository string) ([]*types.ExtractorBinding, error) {
	return c.mgr.ListBindings(repository)
}

func (c *Coordinator) ListExtractors() ([]*types.ExtractorDescription, error) {
	return c.mgr.ListExtractors()
}

func (c *Coordinator) GetExtractor(name string) (*types.ExtractorDescription, error) {
	return c.mgr.ExtractorWithName(name)
}

func (c *Coordinator) ListIndexes(repository string) ([]*types.Index, error) {
	return c.mgr.ListIndexes(repository)
}

// GetIndex looks up an index by (repository, name), using the same
// deterministic hash the index's id was created with.
func (c *Coordinator) GetIndex(repository, name string) (*types.Index, error) {
	return c.mgr.GetIndex(hashid.IndexID(repository, name))
}

// ListContent lists content in repository, narrowed by q.
func (c *Coordinator) ListContent(repository string, q filter.ListQuery) ([]*types.ContentMetadata, error) {
	all, err := c.mgr.ListContent(repository)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", errs.ErrStorageError)
	}
	return filter.List(all, q), nil
}

func (c *Coordinator) GetContentMetadataBatch(ids []string) ([]*types.ContentMetadata, error) {
	return c.mgr.GetContentMetadataBatch(ids)
}

// GetExtractorCoordinates returns the addresses of every live executor
// serving the named extractor kind. An unknown extractor yields an empty
// list, not an error.
func (c *Coordinator) GetExtractorCoordinates(name string) ([]string, error) {
	executors, err := c.mgr.GetExecutorsForExtractor(name)
	if err != nil {
		return nil, fmt.Errorf("list executors for extractor %q: %w", name, errs.ErrStorageError)
	}
	addrs := make([]string, 0, len(executors))
	for _, e := range executors {
		addrs = append(addrs, e.Addr)
	}
	return addrs, nil
}
