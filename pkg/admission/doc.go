/*
Package admission validates new extractor bindings and builds the event
that triggers their backfill.

Validate rejects a self-referential content_source, compiles the
extractor's declared input schema, and validates the binding's params
against it. CreateBinding wraps Validate with persistence against a bare
storage.Store, for callers with no replicated backend in front of them —
the API server instead calls Validate and commits the binding and its
ExtractorBindingAdded event together through Manager.ApplyBinding, so a
partial failure never leaves a binding without its triggering event and
the write replicates through Raft.
*/
package admission
