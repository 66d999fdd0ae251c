package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/schema"
	"github.com/basinrun/coordinator/pkg/storage"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var structValidate = validator.New()

// bindingShape is validated with go-playground/validator for the
// structural constraints a JSON-schema-subset validator has no opinion
// on: required string fields actually being non-empty and at most 255
// characters long.
type bindingShape struct {
	Name          string `validate:"required,max=255"`
	Repository    string `validate:"required,max=255"`
	Extractor     string `validate:"required,max=255"`
	ContentSource string `validate:"required,max=255"`
}

// Validate admits binding against extractor without persisting anything:
// self-reference check, then field-shape check, then schema compile, then
// schema validate.
// Callers that commit the binding through a replicated backend (the API
// server, via Manager.ApplyBinding) call Validate and build the
// triggering event with NewBindingAddedEvent themselves; CreateBinding
// below is the single-node shortcut used by tests and any caller that
// holds a bare storage.Store.
func Validate(binding *types.ExtractorBinding, extractor *types.ExtractorDescription) error {
	if binding.ContentSource == binding.Name {
		return fmt.Errorf("binding %q names itself as content_source: %w", binding.Name, errs.ErrSelfReferentialBinding)
	}

	if err := structValidate.Struct(bindingShape{
		Name:          binding.Name,
		Repository:    binding.Repository,
		Extractor:     binding.Extractor,
		ContentSource: binding.ContentSource,
	}); err != nil {
		return fmt.Errorf("binding %q has invalid shape: %w", binding.Name, err)
	}

	compiled, err := schema.Compile(extractor.InputParams)
	if err != nil {
		return fmt.Errorf("extractor %q schema: %w", extractor.Name, errs.ErrInvalidSchema)
	}

	if msgs := compiled.Validate(binding.InputParams); len(msgs) > 0 {
		return fmt.Errorf("binding %q params: %s: %w", binding.Name, strings.Join(msgs, "; "), errs.ErrInvalidBindingParams)
	}

	return nil
}

// NewBindingAddedEvent builds the ExtractorBindingAdded event a newly
// admitted binding must be persisted alongside, atomically, so the
// coordination core picks it up on the next reconciliation tick.
func NewBindingAddedEvent(binding *types.ExtractorBinding) *types.ExtractionEvent {
	return &types.ExtractionEvent{
		ID:         uuid.New().String(),
		Repository: binding.Repository,
		Kind:       types.EventKindExtractorBindingAdded,
		Binding:    binding,
		CreatedAt:  time.Now(),
	}
}

// CreateBinding admits binding against extractor and, on success,
// persists it directly to store and appends the triggering event
// atomically. This bypasses Raft, so it is only correct for a bare
// storage.Store with no replicated backend in front of it — tests, and
// any single-node caller. The API server routes through
// Manager.ApplyBinding instead; see Validate.
func CreateBinding(store storage.Store, binding *types.ExtractorBinding, extractor *types.ExtractorDescription) error {
	if err := Validate(binding, extractor); err != nil {
		return err
	}

	if err := store.CreateBinding(binding, NewBindingAddedEvent(binding)); err != nil {
		return fmt.Errorf("persist binding %q: %w", binding.Name, errs.ErrStorageError)
	}

	return nil
}
