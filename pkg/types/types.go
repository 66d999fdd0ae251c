package types

import (
	"time"

	"github.com/basinrun/coordinator/pkg/schema"
)

// Repository is a named tenant namespace. All other entities scope to
// exactly one repository.
type Repository struct {
	Name      string
	CreatedAt time.Time
}

// OutputKind describes the shape of a single extractor output slot.
type OutputKind string

const (
	OutputKindEmbedding  OutputKind = "embedding"
	OutputKindStructured OutputKind = "structured"
)

// ExtractorDescription is a declared worker capability. Registrations
// with the same Name replace the live set for that name.
type ExtractorDescription struct {
	Name        string
	InputParams schema.Schema         `json:"input_params"`
	Outputs     map[string]OutputKind `json:"outputs"`
}

// Executor is a running worker instance serving exactly one extractor kind.
type Executor struct {
	ID            string
	Addr          string
	Extractor     string // ExtractorDescription.Name
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// ExtractorBinding attaches an extractor to a repository's content stream.
// Immutable once created.
type ExtractorBinding struct {
	Name                   string
	Repository             string
	Extractor              string
	InputParams            map[string]interface{} `json:"input_params"`
	Filters                map[string]string       `json:"filters"`
	ContentSource          string                  `json:"content_source"`
	OutputIndexNameMapping map[string]string       `json:"output_index_name_mapping"`
	IndexNameTableMapping  map[string]string       `json:"index_name_table_mapping"`
	CreatedAt              time.Time
}

// ContentSourceIngestion marks content supplied directly by a client
// rather than derived from a binding's output.
const ContentSourceIngestion = "ingestion"

// ContentMetadata describes one piece of content known to the system.
// Immutable once persisted.
type ContentMetadata struct {
	ID         string
	Repository string
	ParentID   string            `json:"parent_id"`
	FileName   string            `json:"file_name"`
	Mime       string
	CreatedAt  time.Time         `json:"created_at"`
	StorageURL string            `json:"storage_url"`
	Labels     map[string]string
	Source     string // binding name, or ContentSourceIngestion
}

// EventPayloadKind discriminates the closed sum of ExtractionEvent payloads.
type EventPayloadKind string

const (
	EventKindExtractorBindingAdded EventPayloadKind = "extractor_binding_added"
	EventKindCreateContent         EventPayloadKind = "create_content"
)

// ExtractionEvent is a pending scheduling stimulus. Exactly one of Binding
// or Content is set, selected by Kind.
type ExtractionEvent struct {
	ID          string
	Repository  string
	Kind        EventPayloadKind
	Binding     *ExtractorBinding `json:"binding,omitempty"`
	Content     *ContentMetadata  `json:"content,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
}

// TaskOutcome is the terminal result of executing a task.
type TaskOutcome string

const (
	TaskOutcomeUnknown TaskOutcome = "unknown"
	TaskOutcomeSuccess TaskOutcome = "success"
	TaskOutcomeFailed  TaskOutcome = "failed"
)

// Task is a unit of work for one executor: one (binding, content) pair.
// Never deleted once created — it is the system's execution history.
type Task struct {
	ID                      string
	Extractor               string
	ExtractorBinding        string                 `json:"extractor_binding"`
	Repository              string
	ContentMetadata         ContentMetadata        `json:"content_metadata"`
	InputParams             map[string]interface{} `json:"input_params"`
	OutputIndexTableMapping map[string]string      `json:"output_index_table_mapping"`
	Outcome                 TaskOutcome
	ExecutorID              string `json:"executor_id,omitempty"`
	CreatedAt               time.Time
}

// Index is a declared output sink. The coordinator records only the
// declaration and table mapping, never the index contents.
type Index struct {
	ID         string
	Repository string
	Name       string
	Table      string
	Kind       OutputKind
	CreatedAt  time.Time
}
