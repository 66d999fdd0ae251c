package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/basinrun/coordinator/pkg/admission"
	"github.com/basinrun/coordinator/pkg/coordinator"
	"github.com/basinrun/coordinator/pkg/errs"
	"github.com/basinrun/coordinator/pkg/filter"
	"github.com/basinrun/coordinator/pkg/hashid"
	"github.com/basinrun/coordinator/pkg/log"
	"github.com/basinrun/coordinator/pkg/manager"
	"github.com/basinrun/coordinator/pkg/metrics"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the coordinator's HTTP/JSON RPC surface: one handler per
// client/executor operation, plus the cluster-join endpoint nodes use to
// add themselves as Raft voters. Every mutating handler guards with
// ensureLeader — writes only ever commit on the leader.
type Server struct {
	mgr    *manager.Manager
	coord  *coordinator.Coordinator
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer creates an API server bound to mgr and coord.
func NewServer(mgr *manager.Manager, coord *coordinator.Coordinator) *Server {
	s := &Server{
		mgr:    mgr,
		coord:  coord,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("api"),
	}
	s.routes()
	return s
}

// ServeHTTP lets Server itself be mounted as a handler, e.g. alongside
// the health/metrics endpoints on one listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start runs the server's HTTP listener until the process exits or the
// listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.withMetrics(s.mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	return server.ListenAndServe()
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/repositories", s.createRepository)
	s.mux.HandleFunc("GET /v1/repositories", s.listRepositories)
	s.mux.HandleFunc("GET /v1/repositories/{name}", s.getRepository)

	s.mux.HandleFunc("POST /v1/extractors", s.registerExtractor)
	s.mux.HandleFunc("GET /v1/extractors", s.listExtractors)
	s.mux.HandleFunc("GET /v1/extractors/{name}", s.getExtractor)
	s.mux.HandleFunc("GET /v1/extractors/{name}/coordinates", s.getExtractorCoordinates)

	s.mux.HandleFunc("POST /v1/executors", s.registerExecutor)
	s.mux.HandleFunc("POST /v1/executors/{id}/heartbeat", s.heartbeat)

	s.mux.HandleFunc("POST /v1/bindings", s.createBinding)
	s.mux.HandleFunc("GET /v1/bindings", s.listBindings)

	s.mux.HandleFunc("POST /v1/content", s.createContent)
	s.mux.HandleFunc("POST /v1/content/batch", s.getContentBatch)
	s.mux.HandleFunc("GET /v1/content", s.listContent)

	s.mux.HandleFunc("POST /v1/tasks/{id}/complete", s.completeTask)

	s.mux.HandleFunc("POST /v1/indexes", s.createIndex)
	s.mux.HandleFunc("GET /v1/indexes", s.listIndexes)
	s.mux.HandleFunc("GET /v1/indexes/{name}", s.getIndex)

	s.mux.HandleFunc("POST /v1/cluster/join", s.joinCluster)
	s.mux.HandleFunc("POST /v1/cluster/join-token", s.generateJoinToken)
	s.mux.HandleFunc("GET /v1/cluster/info", s.clusterInfo)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError maps a sentinel error kind (pkg/errs) to the HTTP status
// a client should treat it as. Errors that don't wrap a known sentinel are
// treated as internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrNotLeader):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrSelfReferentialBinding),
		errors.Is(err, errs.ErrInvalidBindingParams),
		errors.Is(err, errs.ErrInvalidSchema),
		errors.Is(err, errs.ErrUnknownExtractor),
		errors.Is(err, errs.ErrMissingMapping):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ensureLeader rejects a mutating request with 503 if this node is not
// the Raft leader, returning false so the caller can stop processing.
func (s *Server) ensureLeader(w http.ResponseWriter) bool {
	if s.mgr.IsLeader() {
		return true
	}
	leaderAddr := s.mgr.LeaderAddr()
	if leaderAddr == "" {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no leader elected yet: %w", errs.ErrNotLeader))
		return false
	}
	writeError(w, http.StatusServiceUnavailable, fmt.Errorf("not the leader, current leader is at %s: %w", leaderAddr, errs.ErrNotLeader))
	return false
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Repositories ---

func (s *Server) createRepository(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	repo := &types.Repository{Name: req.Name, CreatedAt: time.Now()}
	if err := s.mgr.CreateRepository(repo); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.mgr.ListRepositories()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.mgr.GetRepository(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// --- Extractors ---

// registerExtractor is an administrative operation (the coordinatord CLI
// apply path), not one of the client/executor RPCs, but something has to
// record an extractor's schema before any binding can reference it.
func (s *Server) registerExtractor(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var extractor types.ExtractorDescription
	if err := decodeJSON(r, &extractor); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.mgr.RegisterExtractor(&extractor); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, &extractor)
}

func (s *Server) listExtractors(w http.ResponseWriter, r *http.Request) {
	extractors, err := s.mgr.ListExtractors()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, extractors)
}

func (s *Server) getExtractor(w http.ResponseWriter, r *http.Request) {
	extractor, err := s.mgr.ExtractorWithName(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, extractor)
}

func (s *Server) getExtractorCoordinates(w http.ResponseWriter, r *http.Request) {
	addrs, err := s.coord.GetExtractorCoordinates(r.PathValue("name"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, addrs)
}

// --- Executors ---

func (s *Server) registerExecutor(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var req struct {
		ID        string `json:"id"`
		Addr      string `json:"addr"`
		Extractor string `json:"extractor"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	now := time.Now()
	executor := &types.Executor{
		ID: req.ID, Addr: req.Addr, Extractor: req.Extractor,
		RegisteredAt: now, LastHeartbeat: now,
	}
	if err := s.mgr.RegisterExecutor(executor); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.coord.Wake()
	writeJSON(w, http.StatusCreated, executor)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.mgr.TouchExecutorHeartbeat(id); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	tasks, err := s.mgr.TasksForExecutor(id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- Bindings ---

func (s *Server) createBinding(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var binding types.ExtractorBinding
	if err := decodeJSON(r, &binding); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	binding.CreatedAt = time.Now()

	extractor, err := s.mgr.ExtractorWithName(binding.Extractor)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("binding %q names unregistered extractor %q: %w", binding.Name, binding.Extractor, errs.ErrUnknownExtractor))
		return
	}

	if err := admission.Validate(&binding, extractor); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	timer := metrics.NewTimer()
	err = s.mgr.ApplyBinding(&binding, admission.NewBindingAddedEvent(&binding))
	timer.ObserveDuration(metrics.AdmissionDuration)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.coord.Wake()
	writeJSON(w, http.StatusCreated, &binding)
}

func (s *Server) listBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.mgr.ListBindings(r.URL.Query().Get("repository"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

// --- Content ---

func (s *Server) createContent(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var req struct {
		Content []*types.ContentMetadata `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	now := time.Now()
	for _, c := range req.Content {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.Source == "" {
			c.Source = types.ContentSourceIngestion
		}
	}
	if err := s.coord.IngestContent(req.Content); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) getContentBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content, err := s.coord.GetContentMetadataBatch(req.IDs)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) listContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listQuery := filter.ListQuery{
		Source:   q.Get("source"),
		ParentID: q.Get("parent_id"),
	}
	for key, values := range q {
		const prefix = "label."
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && len(values) > 0 {
			if listQuery.LabelsEq == nil {
				listQuery.LabelsEq = map[string]string{}
			}
			listQuery.LabelsEq[key[len(prefix):]] = values[0]
		}
	}
	content, err := s.coord.ListContent(q.Get("repository"), listQuery)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// --- Tasks ---

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var req struct {
		ExecutorID string                   `json:"executor_id"`
		Outcome    types.TaskOutcome        `json:"outcome"`
		Derived    []*types.ContentMetadata `json:"derived_content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	timer := metrics.NewTimer()
	err := s.coord.CompleteTask(r.PathValue("id"), req.ExecutorID, req.Outcome, req.Derived)
	timer.ObserveDuration(metrics.CompletionDuration)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// --- Indexes ---

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var req struct {
		Repository string      `json:"repository"`
		Index      types.Index `json:"index"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Index.Repository = req.Repository
	req.Index.ID = hashid.IndexID(req.Repository, req.Index.Name)
	req.Index.CreatedAt = time.Now()
	if err := s.mgr.CreateIndex(&req.Index); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, &req.Index)
}

func (s *Server) listIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := s.coord.ListIndexes(r.URL.Query().Get("repository"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, indexes)
}

func (s *Server) getIndex(w http.ResponseWriter, r *http.Request) {
	index, err := s.coord.GetIndex(r.URL.Query().Get("repository"), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, index)
}

// --- Cluster bootstrap ---

func (s *Server) joinCluster(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var req struct {
		NodeID   string `json:"node_id"`
		BindAddr string `json:"bind_addr"`
		Token    string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.mgr.ValidateJoinToken(req.Token); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err := s.mgr.AddVoter(req.NodeID, req.BindAddr); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) generateJoinToken(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := s.mgr.GenerateJoinToken(req.Role)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": tok.Token})
}

// ClusterInfo describes the Raft cluster as seen from the node answering
// the request.
type ClusterInfo struct {
	LeaderAddr string              `json:"leader_addr"`
	IsLeader   bool                `json:"is_leader"`
	Servers    []ClusterServerInfo `json:"servers"`
}

// ClusterServerInfo describes one member of the Raft configuration.
type ClusterServerInfo struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
}

func (s *Server) clusterInfo(w http.ResponseWriter, r *http.Request) {
	servers, err := s.mgr.GetClusterServers()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	info := ClusterInfo{
		LeaderAddr: s.mgr.LeaderAddr(),
		IsLeader:   s.mgr.IsLeader(),
	}
	for _, srv := range servers {
		info.Servers = append(info.Servers, ClusterServerInfo{
			ID:       string(srv.ID),
			Address:  string(srv.Address),
			Suffrage: srv.Suffrage.String(),
		})
	}
	writeJSON(w, http.StatusOK, info)
}
