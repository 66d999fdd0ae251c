/*
Package client provides a Go client library for the coordinator's
HTTP/JSON RPC surface: repositories, extractors, executors, bindings,
content, tasks and indexes.

Each method marshals a request, issues one HTTP call to the coordinator's
API server (pkg/api), and decodes the JSON response. Callers on a follower
get back a NotLeader-flavored error body and are expected to retry against
the current leader.
*/
package client
