package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/basinrun/coordinator/pkg/types"
)

// Client is a thin HTTP/JSON wrapper around the coordinator's RPC
// surface, one method per endpoint exposed by pkg/api.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new coordinator client pointed at addr (host:port).
func NewClient(addr string) (*Client, error) {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Close releases the client's resources. It exists to mirror the
// connection-oriented client this replaces; the underlying http.Client
// owns no persistent connection that needs explicit closing.
func (c *Client) Close() error { return nil }

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// CreateRepository registers a new repository.
func (c *Client) CreateRepository(name string) (*types.Repository, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var repo types.Repository
	err := c.do(ctx, http.MethodPost, "/v1/repositories", map[string]string{"name": name}, &repo)
	return &repo, err
}

// ListRepositories lists all repositories.
func (c *Client) ListRepositories() ([]*types.Repository, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var repos []*types.Repository
	err := c.do(ctx, http.MethodGet, "/v1/repositories", nil, &repos)
	return repos, err
}

// GetRepository retrieves a repository by name.
func (c *Client) GetRepository(name string) (*types.Repository, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var repo types.Repository
	err := c.do(ctx, http.MethodGet, "/v1/repositories/"+url.PathEscape(name), nil, &repo)
	return &repo, err
}

// RegisterExecutor registers a running executor for an extractor.
func (c *Client) RegisterExecutor(id, addr, extractor string) (*types.Executor, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var executor types.Executor
	err := c.do(ctx, http.MethodPost, "/v1/executors", map[string]string{
		"id": id, "addr": addr, "extractor": extractor,
	}, &executor)
	return &executor, err
}

// Heartbeat reports liveness for executorID and returns every task
// assigned to it whose outcome is still unknown.
func (c *Client) Heartbeat(executorID string) ([]*types.Task, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var tasks []*types.Task
	err := c.do(ctx, http.MethodPost, "/v1/executors/"+url.PathEscape(executorID)+"/heartbeat", nil, &tasks)
	return tasks, err
}

// UpdateTaskRequest is the payload for UpdateTask.
type UpdateTaskRequest struct {
	ExecutorID string                   `json:"executor_id"`
	Outcome    types.TaskOutcome        `json:"outcome"`
	Derived    []*types.ContentMetadata `json:"derived_content"`
}

// UpdateTask reports the outcome of a completed task, along with any
// content it derived.
func (c *Client) UpdateTask(taskID string, req UpdateTaskRequest) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskID)+"/complete", req, nil)
}

// CreateContent ingests new content metadata.
func (c *Client) CreateContent(content []*types.ContentMetadata) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.do(ctx, http.MethodPost, "/v1/content", map[string]interface{}{"content": content}, nil)
}

// CreateBinding admits a new extractor binding.
func (c *Client) CreateBinding(binding *types.ExtractorBinding) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.do(ctx, http.MethodPost, "/v1/bindings", binding, nil)
}

// ListBindings lists bindings for a repository.
func (c *Client) ListBindings(repository string) ([]*types.ExtractorBinding, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var bindings []*types.ExtractorBinding
	err := c.do(ctx, http.MethodGet, "/v1/bindings?repository="+url.QueryEscape(repository), nil, &bindings)
	return bindings, err
}

// ListExtractors lists all registered extractors.
func (c *Client) ListExtractors() ([]*types.ExtractorDescription, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var extractors []*types.ExtractorDescription
	err := c.do(ctx, http.MethodGet, "/v1/extractors", nil, &extractors)
	return extractors, err
}

// GetExtractor retrieves an extractor's description by name.
func (c *Client) GetExtractor(name string) (*types.ExtractorDescription, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var extractor types.ExtractorDescription
	err := c.do(ctx, http.MethodGet, "/v1/extractors/"+url.PathEscape(name), nil, &extractor)
	return &extractor, err
}

// GetExtractorCoordinates returns the addresses of executors currently
// registered for the given extractor.
func (c *Client) GetExtractorCoordinates(name string) ([]string, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var addrs []string
	err := c.do(ctx, http.MethodGet, "/v1/extractors/"+url.PathEscape(name)+"/coordinates", nil, &addrs)
	return addrs, err
}

// CreateIndex registers a new index for a repository.
func (c *Client) CreateIndex(repository string, index *types.Index) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.do(ctx, http.MethodPost, "/v1/indexes", map[string]interface{}{
		"repository": repository, "index": index,
	}, nil)
}

// ListIndexes lists indexes for a repository.
func (c *Client) ListIndexes(repository string) ([]*types.Index, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var indexes []*types.Index
	err := c.do(ctx, http.MethodGet, "/v1/indexes?repository="+url.QueryEscape(repository), nil, &indexes)
	return indexes, err
}

// GetIndex retrieves a single index by repository and name.
func (c *Client) GetIndex(repository, name string) (*types.Index, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var index types.Index
	path := "/v1/indexes/" + url.PathEscape(name) + "?repository=" + url.QueryEscape(repository)
	err := c.do(ctx, http.MethodGet, path, nil, &index)
	return &index, err
}

// ListContentQuery narrows ListContent results.
type ListContentQuery struct {
	Repository string
	Source     string
	ParentID   string
	LabelsEq   map[string]string
}

// ListContent lists content metadata matching the given filters.
func (c *Client) ListContent(q ListContentQuery) ([]*types.ContentMetadata, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	values := url.Values{}
	values.Set("repository", q.Repository)
	if q.Source != "" {
		values.Set("source", q.Source)
	}
	if q.ParentID != "" {
		values.Set("parent_id", q.ParentID)
	}
	for k, v := range q.LabelsEq {
		values.Add("label."+k, v)
	}

	var content []*types.ContentMetadata
	err := c.do(ctx, http.MethodGet, "/v1/content?"+values.Encode(), nil, &content)
	return content, err
}

// GetContentMetadata retrieves content metadata for a batch of ids.
func (c *Client) GetContentMetadata(ids []string) ([]*types.ContentMetadata, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var content []*types.ContentMetadata
	err := c.do(ctx, http.MethodPost, "/v1/content/batch", map[string][]string{"ids": ids}, &content)
	return content, err
}

// ClusterInfo describes the Raft cluster as seen from the node answering
// the request.
type ClusterInfo struct {
	LeaderAddr string `json:"leader_addr"`
	IsLeader   bool   `json:"is_leader"`
	Servers    []struct {
		ID       string `json:"id"`
		Address  string `json:"address"`
		Suffrage string `json:"suffrage"`
	} `json:"servers"`
}

// GetClusterInfo retrieves the Raft configuration as seen by the node at
// addr.
func (c *Client) GetClusterInfo() (*ClusterInfo, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var info ClusterInfo
	err := c.do(ctx, http.MethodGet, "/v1/cluster/info", nil, &info)
	return &info, err
}

// GenerateJoinToken asks the leader to mint a join token for role
// ("coordinator" or "executor").
func (c *Client) GenerateJoinToken(role string) (string, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/cluster/join-token", map[string]string{"role": role}, &resp)
	return resp.Token, err
}

// JoinCluster asks the leader to add this node as a Raft voter. This is
// cluster bootstrap plumbing, not one of the extraction RPCs, but it
// reuses the same HTTP/JSON surface.
func (c *Client) JoinCluster(nodeID, bindAddr, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return c.do(ctx, http.MethodPost, "/v1/cluster/join", map[string]string{
		"node_id": nodeID, "bind_addr": bindAddr, "token": token,
	}, nil)
}
