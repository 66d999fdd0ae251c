/*
Package manager owns a coordinator node's Raft-replicated state: it runs
the hashicorp/raft instance, the CoordinatorFSM that applies committed
commands, the BoltDB-backed store those commands mutate, and the join
token and event broker a node needs to bootstrap or join a cluster.

Every write (CreateRepository, ApplyBinding, CompleteTask, ...) is
proposed as a Command and only takes effect once its log entry has
committed to a quorum and the FSM applies it; reads are served straight
from the local store. pkg/api
calls into Manager for both; pkg/coordinator holds a Manager handle to
drive the reconciliation loop on the leader.
*/
package manager
