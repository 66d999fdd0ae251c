/*
Package api implements the coordinator's HTTP/JSON RPC surface: one handler
per client and executor operation (repositories, extractors, executors,
bindings, content, tasks, indexes), plus the /v1/cluster/join endpoint
nodes use to add themselves as Raft voters.

Every mutating handler calls ensureLeader first — a follower answers 503
rather than accept a write it cannot commit. Reads are served straight
from the handler's Manager or Coordinator handle, which in turn reads the
local store. health.go's HealthServer serves /health, /ready, and
/metrics on a mux of its own, separate from Server's; /ready lists
repositories through the Manager as its storage check.
*/
package api
