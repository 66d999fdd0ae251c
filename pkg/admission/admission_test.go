package admission_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/basinrun/coordinator/pkg/admission"
	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/storage/storagetest"
	"github.com/basinrun/coordinator/pkg/types"
)

func textExtractor() *types.ExtractorDescription {
	return &types.ExtractorDescription{
		Name:        "text-embedder",
		InputParams: json.RawMessage(`{"type":"object","required":["model"],"properties":{"model":{"type":"string"}}}`),
		Outputs:     map[string]types.OutputKind{"embeddings": types.OutputKindEmbedding},
	}
}

func validBinding() *types.ExtractorBinding {
	return &types.ExtractorBinding{
		Name:          "b",
		Repository:    "r",
		Extractor:     "text-embedder",
		ContentSource: types.ContentSourceIngestion,
		InputParams:   map[string]interface{}{"model": "mini"},
		Filters:       map[string]string{},
	}
}

func TestCreateBinding_Success(t *testing.T) {
	store := storagetest.New()
	if err := admission.CreateBinding(store, validBinding(), textExtractor()); err != nil {
		t.Fatalf("CreateBinding() error = %v", err)
	}

	events, err := store.UnprocessedExtractionEvents()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 unprocessed event, got %d", len(events))
	}
	if events[0].Kind != types.EventKindExtractorBindingAdded {
		t.Errorf("event kind = %v, want ExtractorBindingAdded", events[0].Kind)
	}
}

func TestCreateBinding_SelfReferential(t *testing.T) {
	store := storagetest.New()
	binding := validBinding()
	binding.ContentSource = binding.Name

	err := admission.CreateBinding(store, binding, textExtractor())
	if err == nil {
		t.Fatal("want error for self-referential binding")
	}
}

func TestCreateBinding_InvalidParams(t *testing.T) {
	store := storagetest.New()
	binding := validBinding()
	binding.InputParams = map[string]interface{}{}

	err := admission.CreateBinding(store, binding, textExtractor())
	if err == nil {
		t.Fatal("want error for missing required field")
	}
}

func TestCreateBinding_DuplicateNameFails(t *testing.T) {
	store := storagetest.New()
	extractor := textExtractor()

	if err := admission.CreateBinding(store, validBinding(), extractor); err != nil {
		t.Fatalf("first CreateBinding() error = %v", err)
	}
	if err := admission.CreateBinding(store, validBinding(), extractor); err == nil {
		t.Fatal("want error admitting the same binding name twice")
	}

	events, err := store.UnprocessedExtractionEvents()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("want exactly 1 ExtractorBindingAdded event after duplicate rejection, got %d", len(events))
	}
}

func TestCreateBinding_InvalidSchema(t *testing.T) {
	store := storagetest.New()
	extractor := textExtractor()
	extractor.InputParams = json.RawMessage(`{"type":"not-a-real-type"}`)

	err := admission.CreateBinding(store, validBinding(), extractor)
	if err == nil {
		t.Fatal("want error for uncompilable schema")
	}
	if !errors.Is(err, errs.ErrInvalidSchema) {
		t.Errorf("want ErrInvalidSchema, got %v", err)
	}
}
