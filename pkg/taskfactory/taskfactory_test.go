package taskfactory

import (
	"testing"

	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/hashid"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBinding() *types.ExtractorBinding {
	return &types.ExtractorBinding{
		Name:                   "b",
		Repository:             "r",
		Extractor:              "X",
		ContentSource:          types.ContentSourceIngestion,
		OutputIndexNameMapping: map[string]string{"o": "r.o"},
		IndexNameTableMapping:  map[string]string{"r.o": "r.b.r.o"},
	}
}

func testExtractor() *types.ExtractorDescription {
	return &types.ExtractorDescription{
		Name:    "X",
		Outputs: map[string]types.OutputKind{"o": types.OutputKindEmbedding},
	}
}

func TestBuildDeterministicID(t *testing.T) {
	binding := testBinding()
	extractor := testExtractor()
	content := []*types.ContentMetadata{{ID: "c1", Repository: "r"}}

	tasks, err := Build(binding, extractor, content)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	want := hashid.TaskID("b", "r", "c1")
	assert.Equal(t, want, tasks[0].ID)
	assert.Equal(t, map[string]string{"o": "r.b.r.o"}, tasks[0].OutputIndexTableMapping)
	assert.Equal(t, types.TaskOutcomeUnknown, tasks[0].Outcome)

	again, err := Build(binding, extractor, content)
	require.NoError(t, err)
	assert.Equal(t, tasks[0].ID, again[0].ID)
}

func TestBuildMissingIndexMapping(t *testing.T) {
	binding := testBinding()
	binding.OutputIndexNameMapping = map[string]string{}
	extractor := testExtractor()

	_, err := Build(binding, extractor, []*types.ContentMetadata{{ID: "c1"}})
	assert.ErrorIs(t, err, errs.ErrMissingMapping)
}

func TestBuildMissingTableMapping(t *testing.T) {
	binding := testBinding()
	binding.IndexNameTableMapping = map[string]string{}
	extractor := testExtractor()

	_, err := Build(binding, extractor, []*types.ContentMetadata{{ID: "c1"}})
	assert.ErrorIs(t, err, errs.ErrMissingMapping)
}

func TestBuildNoOutputsNeedsNoMapping(t *testing.T) {
	binding := testBinding()
	extractor := &types.ExtractorDescription{Name: "X"}

	tasks, err := Build(binding, extractor, []*types.ContentMetadata{{ID: "c1"}})
	require.NoError(t, err)
	assert.Empty(t, tasks[0].OutputIndexTableMapping)
}
