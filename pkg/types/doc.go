/*
Package types defines the data structures shared across the coordinator:
repositories, extractor descriptions, executors, bindings, content
metadata, extraction events, tasks, and indexes. Every other package
builds on these types for storage, Raft replication, and the HTTP API.

# Core Types

Tenancy and capability:
  - Repository: a named tenant namespace
  - ExtractorDescription: a declared worker capability (inputs, outputs)
  - Executor: a running worker instance serving one extractor kind

Content and scheduling:
  - ExtractorBinding: attaches an extractor to a repository's content stream
  - ContentMetadata: one piece of content known to the system
  - ExtractionEvent: a pending scheduling stimulus (binding added or content created)
  - Task: a unit of work pairing one binding with one piece of content
  - Index: a declared output sink for a binding's extracted data

# Integration Points

This package integrates with:

  - pkg/storage: persists every type to BoltDB
  - pkg/manager: replicates mutations through Raft and serves reads
  - pkg/coordinator: turns events into tasks and assigns them to executors
  - pkg/api: marshals these types to and from JSON over HTTP
  - pkg/admission: validates bindings before they are persisted
  - pkg/taskfactory: builds Task values from a binding/content pair
*/
package types
