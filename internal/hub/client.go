// Package hub implements the client for the external social-graph Hub
// API that the coordinator polls for work and the runner reports
// consumption to.
//
// Grounded on HubClient in the reference clients/hub.py (endpoints,
// field names, long-poll fallback) and on the teacher's
// internal/worker/retry_client.go for the bounded-retry HTTP client
// shape, with the hand-rolled backoff loop replaced by
// github.com/cenkalti/backoff/v4 per this fleet's dependency stack.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kestrelfleet/orchestrator/internal/types"
)

const maxResponseBodyBytes = 64 * 1024

// Client talks to the Hub API with bounded connection pooling and
// exponential-backoff retries of GET requests on transient failures.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retries uint64
}

// NewClient builds a Client against baseURL, authenticating with apiKey
// if non-empty. The transport mirrors the reference httpx.Limits
// configuration: up to 100 idle connections total, 20 per host, each
// recycled after 30s of inactivity. Each request times out after 40s,
// longer than the Hub's 30s long-poll window.
func NewClient(baseURL, apiKey string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Transport: transport, Timeout: 40 * time.Second},
		retries: 3,
	}
}

func (c *Client) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	return backoff.WithMaxRetries(b, c.retries)
}

// doJSON issues req and decodes a JSON body into out if non-nil. GET
// requests are retried on network errors and 5xx responses; other
// methods are sent once.
func (c *Client) doJSON(ctx context.Context, op string, req *http.Request, out interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var body []byte
	attempt := func() error {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return &Error{Op: op, StatusCode: resp.StatusCode, Message: "server error"}
		}
		if resp.StatusCode >= 400 {
			b, _ := readLimited(resp.Body)
			return backoff.Permanent(&Error{Op: op, StatusCode: resp.StatusCode, Message: string(b)})
		}

		b, err := readLimited(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	policy := c.newBackoff()
	if req.Method != http.MethodGet {
		policy = &backoff.StopBackOff{}
	}
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		if herr, ok := err.(*Error); ok {
			return herr
		}
		return &Error{Op: op, Message: "request failed", Cause: err}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return &Error{Op: op, Message: "decode response", Cause: err}
		}
	}
	return nil
}

func readLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxResponseBodyBytes))
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, timeout time.Duration, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return &Error{Op: op, Message: "build request", Cause: err}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.doJSON(ctx, op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, payload, out interface{}) error {
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return &Error{Op: op, Message: "encode payload", Cause: err}
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return &Error{Op: op, Message: "build request", Cause: err}
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
	}
	return c.doJSON(ctx, op, req, out)
}

// agentsResponse is the common shape of /api/v1/agents and
// /api/v1/notifications/poll responses.
type agentsResponse struct {
	Agents []struct {
		ID                string  `json:"id"`
		Name              string  `json:"name"`
		NotificationCount int     `json:"notification_count"`
		LastActivatedAt   *string `json:"last_activated_at"`
	} `json:"agents"`
}

func (r agentsResponse) toAssignments(taskType types.TaskType) []types.Assignment {
	out := make([]types.Assignment, 0, len(r.Agents))
	for _, a := range r.Agents {
		assignment := types.Assignment{
			AgentID:    a.ID,
			AgentName:  a.Name,
			TaskType:   taskType,
			InboxCount: a.NotificationCount,
			CreatedAt:  time.Now(),
		}
		if a.LastActivatedAt != nil {
			if t, err := time.Parse(time.RFC3339, *a.LastActivatedAt); err == nil {
				assignment.LastActivated = &t
			}
		}
		out = append(out, assignment)
	}
	return out
}

// GetAgentsWithNotifications lists agents that have unread notifications.
func (c *Client) GetAgentsWithNotifications(ctx context.Context) ([]types.Assignment, error) {
	var resp agentsResponse
	q := url.Values{"has_notifications": {"true"}}
	if err := c.get(ctx, "get_agents_with_notifications", "/api/v1/agents", q, 0, &resp); err != nil {
		return nil, err
	}
	return resp.toAssignments(types.TaskInbox), nil
}

// GetStaleAgents lists agents that have not been activated within
// minStaleness.
func (c *Client) GetStaleAgents(ctx context.Context, minStaleness time.Duration) ([]types.Assignment, error) {
	var resp agentsResponse
	q := url.Values{
		"stale":         {"true"},
		"min_staleness": {fmt.Sprintf("%d", int(minStaleness.Seconds()))},
	}
	if err := c.get(ctx, "get_stale_agents", "/api/v1/agents", q, 0, &resp); err != nil {
		return nil, err
	}
	return resp.toAssignments(types.TaskDiscovery), nil
}

// PollNotifications long-polls the Hub for agents with new
// notifications, waiting up to timeout. Returns an empty slice (not an
// error) when the poll simply times out with no work.
func (c *Client) PollNotifications(ctx context.Context, timeout time.Duration, batchSize int) ([]types.Assignment, error) {
	var resp agentsResponse
	q := url.Values{
		"timeout":    {fmt.Sprintf("%d", int(timeout.Seconds()))},
		"batch_size": {fmt.Sprintf("%d", batchSize)},
	}
	// The HTTP-level deadline is longer than the poll timeout itself so
	// the server has room to legitimately hold the connection open.
	err := c.get(ctx, "poll_notifications", "/api/v1/notifications/poll", q, timeout+10*time.Second, &resp)
	if err != nil {
		if herr, ok := err.(*Error); ok && herr.StatusCode == http.StatusNotFound {
			return c.GetAgentsWithNotifications(ctx)
		}
		return nil, err
	}
	return resp.toAssignments(types.TaskInbox), nil
}

// GetBudgetHealth returns an agent's current spend standing.
func (c *Client) GetBudgetHealth(ctx context.Context, agentID string) (types.BudgetHealth, error) {
	var data struct {
		DailyLimit   float64 `json:"daily_limit"`
		DailyUsed    float64 `json:"daily_used"`
		MonthlyLimit float64 `json:"monthly_limit"`
		MonthlyUsed  float64 `json:"monthly_used"`
		Healthy      bool    `json:"healthy"`
	}
	q := url.Values{"agent_id": {agentID}}
	if err := c.get(ctx, "get_budget_health", "/api/v1/system/budget-health", q, 0, &data); err != nil {
		return types.BudgetHealth{}, err
	}
	return types.BudgetHealth{
		AgentID:      agentID,
		DailyLimit:   data.DailyLimit,
		DailyUsed:    data.DailyUsed,
		MonthlyLimit: data.MonthlyLimit,
		MonthlyUsed:  data.MonthlyUsed,
		Healthy:      data.Healthy,
	}, nil
}

// ReportConsumption reports token usage and cost for an agent.
func (c *Client) ReportConsumption(ctx context.Context, agentID string, tokensInput, tokensOutput int, costUSD float64) error {
	payload := map[string]interface{}{
		"agent_id":      agentID,
		"tokens_input":  tokensInput,
		"tokens_output": tokensOutput,
		"cost_usd":      costUSD,
	}
	return c.post(ctx, "report_consumption", "/api/v1/system/consumption", payload, nil)
}

// UpdateAgentActivation tells the Hub an agent was just activated, so
// its staleness clock resets.
func (c *Client) UpdateAgentActivation(ctx context.Context, agentID string) error {
	return c.post(ctx, "update_agent_activation", fmt.Sprintf("/api/v1/agents/%s/activated", agentID), nil, nil)
}

// LoadAgentConfig fetches an agent's full configuration. It satisfies
// cache.Loader.
func (c *Client) LoadAgentConfig(ctx context.Context, agentID string) (types.AgentConfig, error) {
	var cfg types.AgentConfig
	err := c.get(ctx, "load_agent_config", fmt.Sprintf("/api/v1/agents/%s/config", agentID), nil, 0, &cfg)
	return cfg, err
}
