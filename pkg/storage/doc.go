/*
Package storage provides BoltDB-backed persistence for the coordinator's
scheduling state: repositories, extractors, executors, bindings, content
metadata, extraction events, tasks and indexes.

# Architecture

BoltStore keeps one bucket per entity kind, JSON-marshaled values keyed by
the entity's natural id (task id, executor id, "repository/name" for
bindings). Reads use db.View, writes use db.Update; BoltDB serializes
writers and gives readers a consistent snapshot.

# Atomicity

Two methods group several logical writes into one BoltDB transaction
because the coordinator's reconciliation driver needs them to succeed or
fail as a unit:

  - ApplyEventTasks: persist the tasks synthesized from one event and mark
    that event processed, in the same transaction. A crash between the two
    would either leave tasks without a processed mark (safe — task ids are
    deterministic, so redriving is a no-op upsert) or never happen at all.
  - CompleteTask: record a task's outcome, persist any derived content, and
    append the CreateContent events derived content generates, atomically.

# Integration

Consumed by pkg/manager's FSM (every mutation here is reached only through
a committed raft log entry) and by pkg/coordinator's read paths, which talk
to the store directly since reads don't need to go through raft.
*/
package storage
