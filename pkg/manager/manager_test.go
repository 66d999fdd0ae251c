package manager

import (
	"net"
	"testing"
	"time"

	"github.com/basinrun/coordinator/pkg/types"
)

// freePort binds an ephemeral port, closes the listener, and returns an
// address string for a Raft node to bind to. There is an inherent race
// between closing the listener and Raft rebinding it, but it is the same
// trick hashicorp/raft's own tests use and is good enough for a
// single-node, single-process test.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func newBootstrappedManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(&Config{
		NodeID:   "node-1",
		BindAddr: freePort(t),
		DataDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown() })

	if err := m.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	waitForLeader(t, m)
	return m
}

func waitForLeader(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if m.IsLeader() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("node %s never became leader", m.nodeID)
}

func TestManager_BootstrapSingleNodeBecomesLeader(t *testing.T) {
	m := newBootstrappedManager(t)
	if !m.IsLeader() {
		t.Fatal("expected bootstrapped single node to be leader")
	}
	if m.LeaderAddr() == "" {
		t.Error("LeaderAddr() is empty on the leader")
	}
}

func TestManager_CreateRepositoryAppliesThroughRaft(t *testing.T) {
	m := newBootstrappedManager(t)

	if err := m.CreateRepository(&types.Repository{Name: "docs"}); err != nil {
		t.Fatalf("CreateRepository() error = %v", err)
	}

	repo, err := m.GetRepository("docs")
	if err != nil {
		t.Fatalf("GetRepository() error = %v", err)
	}
	if repo.Name != "docs" {
		t.Errorf("repo.Name = %q, want docs", repo.Name)
	}

	repos, err := m.ListRepositories()
	if err != nil {
		t.Fatalf("ListRepositories() error = %v", err)
	}
	if len(repos) != 1 {
		t.Errorf("len(repos) = %d, want 1", len(repos))
	}
}

func TestManager_ApplyBindingPersistsBindingAndEvent(t *testing.T) {
	m := newBootstrappedManager(t)

	if err := m.CreateRepository(&types.Repository{Name: "r"}); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterExtractor(&types.ExtractorDescription{
		Name:    "X",
		Outputs: map[string]types.OutputKind{"o": types.OutputKindEmbedding},
	}); err != nil {
		t.Fatal(err)
	}

	binding := &types.ExtractorBinding{
		Name: "b", Repository: "r", Extractor: "X",
		ContentSource:          types.ContentSourceIngestion,
		Filters:                map[string]string{},
		InputParams:            map[string]interface{}{},
		OutputIndexNameMapping: map[string]string{"o": "r.o"},
		IndexNameTableMapping:  map[string]string{"r.o": "r.b.r.o"},
	}
	event := &types.ExtractionEvent{ID: "evt-1", Repository: "r", Kind: types.EventKindExtractorBindingAdded, Binding: binding, CreatedAt: time.Now()}

	if err := m.ApplyBinding(binding, event); err != nil {
		t.Fatalf("ApplyBinding() error = %v", err)
	}

	got, err := m.GetBinding("r", "b")
	if err != nil {
		t.Fatalf("GetBinding() error = %v", err)
	}
	if got.Extractor != "X" {
		t.Errorf("got.Extractor = %q, want X", got.Extractor)
	}

	pending, err := m.UnprocessedExtractionEvents()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "evt-1" {
		t.Errorf("UnprocessedExtractionEvents() = %v, want [evt-1]", pending)
	}
}

func TestManager_JoinTokenRoundTrip(t *testing.T) {
	m := newBootstrappedManager(t)

	tok, err := m.GenerateJoinToken("executor")
	if err != nil {
		t.Fatalf("GenerateJoinToken() error = %v", err)
	}

	role, err := m.ValidateJoinToken(tok.Token)
	if err != nil {
		t.Fatalf("ValidateJoinToken() error = %v", err)
	}
	if role != "executor" {
		t.Errorf("role = %q, want executor", role)
	}

	if _, err := m.ValidateJoinToken("not-a-real-token"); err == nil {
		t.Error("expected an error for an unknown token")
	}
}
