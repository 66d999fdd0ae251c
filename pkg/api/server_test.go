package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basinrun/coordinator/pkg/coordinator"
	"github.com/basinrun/coordinator/pkg/manager"
	"github.com/basinrun/coordinator/pkg/types"
)

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

func newTestServer(t *testing.T) *Server {
	t.Helper()

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "node-1",
		BindAddr: freePort(t),
		DataDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.Shutdown() })

	if err := mgr.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !mgr.IsLeader() {
		time.Sleep(50 * time.Millisecond)
	}
	if !mgr.IsLeader() {
		t.Fatal("node never became leader")
	}

	coord := coordinator.New(mgr)
	return NewServer(mgr, coord)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestServer_CreateAndGetRepository(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "POST", "/v1/repositories", map[string]string{"name": "docs"})
	if w.Code != 201 {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s, "GET", "/v1/repositories/docs", nil)
	if w.Code != 200 {
		t.Fatalf("get: status = %d, body = %s", w.Code, w.Body.String())
	}
	var repo types.Repository
	if err := json.Unmarshal(w.Body.Bytes(), &repo); err != nil {
		t.Fatal(err)
	}
	if repo.Name != "docs" {
		t.Errorf("repo.Name = %q, want docs", repo.Name)
	}
}

func TestServer_GetUnknownRepositoryIs404(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "GET", "/v1/repositories/does-not-exist", nil)
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestServer_CreateBindingEndToEnd(t *testing.T) {
	s := newTestServer(t)

	doRequest(t, s, "POST", "/v1/repositories", map[string]string{"name": "r"})
	doRequest(t, s, "POST", "/v1/extractors", types.ExtractorDescription{
		Name:    "X",
		Outputs: map[string]types.OutputKind{"o": types.OutputKindEmbedding},
	})
	doRequest(t, s, "POST", "/v1/executors", map[string]string{"id": "e1", "addr": "localhost:9000", "extractor": "X"})
	w := doRequest(t, s, "POST", "/v1/content", map[string]interface{}{
		"content": []*types.ContentMetadata{{ID: "c1", Repository: "r", Source: types.ContentSourceIngestion}},
	})
	if w.Code != 204 {
		t.Fatalf("create content: status = %d, body = %s", w.Code, w.Body.String())
	}

	binding := types.ExtractorBinding{
		Name: "b", Repository: "r", Extractor: "X",
		ContentSource:          types.ContentSourceIngestion,
		Filters:                map[string]string{},
		InputParams:            map[string]interface{}{},
		OutputIndexNameMapping: map[string]string{"o": "r.o"},
		IndexNameTableMapping:  map[string]string{"r.o": "r.b.r.o"},
	}
	w = doRequest(t, s, "POST", "/v1/bindings", binding)
	if w.Code != 201 {
		t.Fatalf("create binding: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s, "GET", "/v1/bindings?repository=r", nil)
	var bindings []*types.ExtractorBinding
	if err := json.Unmarshal(w.Body.Bytes(), &bindings); err != nil {
		t.Fatal(err)
	}
	if len(bindings) != 1 || bindings[0].Name != "b" {
		t.Errorf("bindings = %+v, want one binding named b", bindings)
	}
}

func TestServer_CreateBindingSelfReferentialRejected(t *testing.T) {
	s := newTestServer(t)

	doRequest(t, s, "POST", "/v1/repositories", map[string]string{"name": "r"})
	doRequest(t, s, "POST", "/v1/extractors", types.ExtractorDescription{Name: "X"})

	binding := types.ExtractorBinding{
		Name: "self", Repository: "r", Extractor: "X",
		ContentSource: "self",
		Filters:       map[string]string{},
		InputParams:   map[string]interface{}{},
	}
	w := doRequest(t, s, "POST", "/v1/bindings", binding)
	if w.Code != 400 {
		t.Errorf("status = %d, want 400 for self-referential binding", w.Code)
	}
}

func TestServer_ExtractorCoordinatesEmptyForUnknown(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "GET", "/v1/extractors/nope/coordinates", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var addrs []string
	if err := json.Unmarshal(w.Body.Bytes(), &addrs); err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 0 {
		t.Errorf("addrs = %v, want empty", addrs)
	}
}
