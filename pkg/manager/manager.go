package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/basinrun/coordinator/pkg/client"
	"github.com/basinrun/coordinator/pkg/events"
	"github.com/basinrun/coordinator/pkg/log"
	"github.com/basinrun/coordinator/pkg/metrics"
	"github.com/basinrun/coordinator/pkg/storage"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager owns a coordinator node's replicated state: the Raft instance,
// the FSM applying committed commands, the BoltDB-backed store those
// commands mutate, and the event broker that fans out state changes to
// local watchers.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft         *raft.Raft
	fsm          *CoordinatorFSM
	store        storage.Store
	tokenManager *TokenManager
	eventBroker  *events.Broker
}

// Config holds configuration for creating a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewCoordinatorFSM(store)
	tokenManager := NewTokenManager()

	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		fsm:          fsm,
		store:        store,
		tokenManager: tokenManager,
		eventBroker:  eventBroker,
	}

	return m, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tune Raft timeouts for faster failover on a LAN-scale deployment.
	// Hashicorp's defaults (HeartbeatTimeout=1s, ElectionTimeout=1s,
	// LeaderLeaseTimeout=500ms) target WAN clusters.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	return config
}

func (m *Manager) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	config := raftConfig(m.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStorePath := filepath.Join(m.dataDir, "raft-log.db")
	logStore, err := raftboltdb.NewBoltStore(logStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStorePath := filepath.Join(m.dataDir, "raft-stable.db")
	stableStore, err := raftboltdb.NewBoltStore(stableStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a new single-node Raft cluster.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	return nil
}

// Join adds this manager to an existing cluster by starting its own Raft
// instance, then asking the leader to add it as a voter.
func (m *Manager) Join(leaderAddr string, token string) error {
	r, _, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	c, err := client.NewClient(leaderAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to leader: %w", err)
	}
	defer c.Close()

	if err := c.JoinCluster(m.nodeID, m.bindAddr, token); err != nil {
		return fmt.Errorf("failed to join cluster via RPC: %w", err)
	}

	log.Info(fmt.Sprintf("joined cluster via %s", leaderAddr))
	return nil
}

// AddVoter adds a new node to the Raft cluster. Must be called on the
// leader.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster. Must be called on
// the leader.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns every server in the Raft configuration.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// LeaderCh returns the channel hashicorp/raft fires on every leadership
// change, true when this node becomes leader. The reconciliation driver
// watches it to know when to start or stop ticking.
func (m *Manager) LeaderCh() <-chan bool {
	if m.raft == nil {
		return nil
	}
	return m.raft.LeaderCh()
}

// IsLeader returns true if this manager is the Raft leader.
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns a snapshot of Raft health for the metrics collector.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(m.raft.Leader())

	configFuture := m.raft.GetConfiguration()
	if err := configFuture.Error(); err == nil {
		stats["peers"] = uint64(len(configFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// GetEventBroker returns the event broker.
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all local subscribers.
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command to the Raft log and waits for it to commit.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func apply(m *Manager, op string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: payload})
}

// --- Mutations (committed through Raft) ---

// CreateRepository registers a new repository.
func (m *Manager) CreateRepository(repo *types.Repository) error {
	if err := apply(m, "create_repository", repo); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{Type: events.EventRepositoryCreated, Message: repo.Name})
	return nil
}

// RegisterExtractor records an extractor's description.
func (m *Manager) RegisterExtractor(extractor *types.ExtractorDescription) error {
	if err := apply(m, "register_extractor", extractor); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{Type: events.EventExtractorRegistered, Message: extractor.Name})
	return nil
}

// RegisterExecutor records a newly started executor.
func (m *Manager) RegisterExecutor(executor *types.Executor) error {
	if err := apply(m, "register_executor", executor); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{Type: events.EventExecutorRegistered, Message: executor.ID})
	return nil
}

// RemoveExecutor deregisters an executor.
func (m *Manager) RemoveExecutor(id string) error {
	if err := apply(m, "remove_executor", id); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{Type: events.EventExecutorRemoved, Message: id})
	return nil
}

// TouchExecutorHeartbeat records a heartbeat from an executor.
func (m *Manager) TouchExecutorHeartbeat(id string) error {
	return apply(m, "touch_executor_heartbeat", id)
}

// ApplyBinding admits binding and records the event that triggers its
// initial content scan, atomically.
func (m *Manager) ApplyBinding(binding *types.ExtractorBinding, event *types.ExtractionEvent) error {
	if err := apply(m, "apply_binding", applyBindingPayload{Binding: binding, Event: event}); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{Type: events.EventBindingAdded, Message: binding.Repository + "/" + binding.Name})
	return nil
}

// CreateContentBatch ingests new content and the events it triggers.
func (m *Manager) CreateContentBatch(content []*types.ContentMetadata, evts []*types.ExtractionEvent) error {
	if err := apply(m, "create_content_batch", createContentBatchPayload{Content: content, Events: evts}); err != nil {
		return err
	}
	for _, c := range content {
		m.PublishEvent(&events.Event{Type: events.EventContentCreated, Message: c.ID})
	}
	return nil
}

// ApplyEventTasks persists the tasks synthesized for eventID and marks
// that event processed, atomically.
func (m *Manager) ApplyEventTasks(eventID string, tasks []*types.Task) error {
	if err := apply(m, "apply_event_tasks", applyEventTasksPayload{EventID: eventID, Tasks: tasks}); err != nil {
		return err
	}
	for _, t := range tasks {
		m.PublishEvent(&events.Event{Type: events.EventTaskCreated, Message: t.ID})
	}
	return nil
}

// CommitTaskAssignments assigns pending tasks to executors.
func (m *Manager) CommitTaskAssignments(assignments map[string]string) error {
	if err := apply(m, "commit_task_assignments", commitAssignmentsPayload{Assignments: assignments}); err != nil {
		return err
	}
	for taskID := range assignments {
		m.PublishEvent(&events.Event{Type: events.EventTaskAssigned, Message: taskID})
	}
	return nil
}

// CompleteTask records a task's outcome and any content it derived,
// atomically.
func (m *Manager) CompleteTask(taskID, executorID string, outcome types.TaskOutcome, derived []*types.ContentMetadata, derivedEvents []*types.ExtractionEvent) error {
	err := apply(m, "complete_task", completeTaskPayload{
		TaskID: taskID, ExecutorID: executorID, Outcome: outcome,
		Derived: derived, DerivedEvents: derivedEvents,
	})
	if err != nil {
		return err
	}
	evtType := events.EventTaskCompleted
	if outcome == types.TaskOutcomeFailed {
		evtType = events.EventTaskFailed
	}
	m.PublishEvent(&events.Event{Type: evtType, Message: taskID})
	return nil
}

// CreateIndex registers a new index.
func (m *Manager) CreateIndex(index *types.Index) error {
	if err := apply(m, "create_index", index); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{Type: events.EventIndexCreated, Message: index.ID})
	return nil
}

// --- Reads (served from the local store) ---

func (m *Manager) GetRepository(name string) (*types.Repository, error) { return m.store.GetRepository(name) }
func (m *Manager) ListRepositories() ([]*types.Repository, error)       { return m.store.ListRepositories() }

func (m *Manager) ExtractorWithName(name string) (*types.ExtractorDescription, error) {
	return m.store.ExtractorWithName(name)
}
func (m *Manager) ListExtractors() ([]*types.ExtractorDescription, error) { return m.store.ListExtractors() }

func (m *Manager) GetExecutorsForExtractor(name string) ([]*types.Executor, error) {
	return m.store.GetExecutorsForExtractor(name)
}
func (m *Manager) ListExecutors() ([]*types.Executor, error) { return m.store.ListExecutors() }

func (m *Manager) GetBinding(repository, name string) (*types.ExtractorBinding, error) {
	return m.store.GetBinding(repository, name)
}
func (m *Manager) ListBindings(repository string) ([]*types.ExtractorBinding, error) {
	return m.store.ListBindings(repository)
}

func (m *Manager) ListContent(repository string) ([]*types.ContentMetadata, error) {
	return m.store.ListContent(repository)
}
func (m *Manager) GetContentMetadataBatch(ids []string) ([]*types.ContentMetadata, error) {
	return m.store.GetContentMetadataBatch(ids)
}

func (m *Manager) UnprocessedExtractionEvents() ([]*types.ExtractionEvent, error) {
	return m.store.UnprocessedExtractionEvents()
}

func (m *Manager) UnassignedTasks() ([]*types.Task, error) { return m.store.UnassignedTasks() }
func (m *Manager) TasksForExecutor(executorID string) ([]*types.Task, error) {
	return m.store.TasksForExecutor(executorID)
}
func (m *Manager) GetTask(id string) (*types.Task, error) { return m.store.GetTask(id) }
func (m *Manager) ListTasks() ([]*types.Task, error)       { return m.store.ListTasks() }

func (m *Manager) GetIndex(id string) (*types.Index, error) { return m.store.GetIndex(id) }
func (m *Manager) ListIndexes(repository string) ([]*types.Index, error) {
	return m.store.ListIndexes(repository)
}

// Store exposes the manager's underlying storage.Store for read-only
// queries. Every mutation must instead go through one of the apply()-backed
// methods above (ApplyBinding, ApplyEventTasks, CommitTaskAssignments,
// CompleteTask, ...) so it commits to the Raft log and replicates to
// followers; writing straight to the store returned here bypasses Raft
// and will not survive a leader change.
func (m *Manager) Store() storage.Store { return m.store }

// GenerateJoinToken generates a new join token for adding nodes. Must be
// called on the leader.
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("not the leader, tokens can only be generated by the leader")
	}
	return m.tokenManager.GenerateToken(role, 24*time.Hour)
}

// ValidateJoinToken validates a join token and returns its role.
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// NodeID returns the manager's node ID.
func (m *Manager) NodeID() string { return m.nodeID }

// Shutdown gracefully shuts down the manager.
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}
