/*
Package coordinator implements the scheduling core's reconciliation loop:
draining extraction events into tasks, distributing tasks to executors,
handling task completion, and the read-only query surface clients use.

A Coordinator holds its backend (a *manager.Manager outside tests) and
its driver, and no state of its own — every
mutation and read goes through the replicated store, which is what lets
RPC handlers, the driver goroutine, and concurrent queries share one
Coordinator value without any locking of their own. The driver serializes
only against itself (one tick at a time); admission, completion, and
queries may run freely alongside a tick because the store is what
actually linearizes writes.
*/
package coordinator
