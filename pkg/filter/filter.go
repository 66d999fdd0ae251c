package filter

import "github.com/basinrun/coordinator/pkg/types"

// Matches reports whether content is accepted by binding: the repositories
// agree, the content's source equals the binding's declared content source,
// and every label the binding requires is present with an equal value on
// the content. A missing label key is a mismatch.
func Matches(content *types.ContentMetadata, binding *types.ExtractorBinding) bool {
	if content.Repository != binding.Repository {
		return false
	}
	if content.Source != binding.ContentSource {
		return false
	}
	for k, v := range binding.Filters {
		if content.Labels[k] != v {
			return false
		}
	}
	return true
}

// ListQuery narrows a content listing for client reads. An empty Source or
// ParentID disables that criterion; a nil/empty LabelsEq disables label
// filtering.
type ListQuery struct {
	Source   string
	ParentID string
	LabelsEq map[string]string
}

// List returns the subset of content matching every criterion set on q.
func List(content []*types.ContentMetadata, q ListQuery) []*types.ContentMetadata {
	var out []*types.ContentMetadata
	for _, c := range content {
		if q.Source != "" && c.Source != q.Source {
			continue
		}
		if q.ParentID != "" && c.ParentID != q.ParentID {
			continue
		}
		if !labelsMatch(c.Labels, q.LabelsEq) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func labelsMatch(labels, want map[string]string) bool {
	for k, v := range want {
		if labels[k] != v {
			return false
		}
	}
	return true
}
