package filter

import (
	"testing"

	"github.com/basinrun/coordinator/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	binding := &types.ExtractorBinding{
		Name:          "b",
		Repository:    "r",
		ContentSource: types.ContentSourceIngestion,
		Filters:       map[string]string{"lang": "en"},
	}

	tests := []struct {
		name    string
		content *types.ContentMetadata
		want    bool
	}{
		{
			name: "matching repository, source and labels",
			content: &types.ContentMetadata{
				Repository: "r", Source: types.ContentSourceIngestion,
				Labels: map[string]string{"lang": "en"},
			},
			want: true,
		},
		{
			name: "wrong repository",
			content: &types.ContentMetadata{
				Repository: "other", Source: types.ContentSourceIngestion,
				Labels: map[string]string{"lang": "en"},
			},
			want: false,
		},
		{
			name: "source mismatch",
			content: &types.ContentMetadata{
				Repository: "r", Source: "some_other_binding",
				Labels: map[string]string{"lang": "en"},
			},
			want: false,
		},
		{
			name: "missing required label",
			content: &types.ContentMetadata{
				Repository: "r", Source: types.ContentSourceIngestion,
				Labels: map[string]string{},
			},
			want: false,
		},
		{
			name: "label value mismatch",
			content: &types.ContentMetadata{
				Repository: "r", Source: types.ContentSourceIngestion,
				Labels: map[string]string{"lang": "fr"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.content, binding))
		})
	}
}

func TestMatchesEmptyFiltersMatchesEverythingWithRightSource(t *testing.T) {
	binding := &types.ExtractorBinding{
		Repository:    "r",
		ContentSource: types.ContentSourceIngestion,
		Filters:       map[string]string{},
	}
	content := &types.ContentMetadata{
		Repository: "r",
		Source:     types.ContentSourceIngestion,
		Labels:     map[string]string{"anything": "goes"},
	}
	assert.True(t, Matches(content, binding))
}

func TestList(t *testing.T) {
	content := []*types.ContentMetadata{
		{ID: "c1", Source: types.ContentSourceIngestion, Labels: map[string]string{"lang": "en"}},
		{ID: "c2", Source: "b", ParentID: "c1", Labels: map[string]string{"lang": "fr"}},
		{ID: "c3", Source: "b", ParentID: "c1", Labels: map[string]string{"lang": "en"}},
	}

	out := List(content, ListQuery{Source: "b"})
	assert.Len(t, out, 2)

	out = List(content, ListQuery{Source: "b", LabelsEq: map[string]string{"lang": "en"}})
	assert.Len(t, out, 1)
	assert.Equal(t, "c3", out[0].ID)

	out = List(content, ListQuery{ParentID: "c1"})
	assert.Len(t, out, 2)

	out = List(content, ListQuery{})
	assert.Len(t, out, 3)
}
