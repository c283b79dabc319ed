// Package types provides shared data model definitions used across the
// coordinator, runner, and client packages.
package types

import "time"

// TaskType distinguishes why an agent was assigned to a runner.
type TaskType string

const (
	// TaskInbox means the agent has unread notifications to process.
	TaskInbox TaskType = "inbox"
	// TaskDiscovery means the agent should explore and engage proactively.
	TaskDiscovery TaskType = "discovery"
)

// ActivationMode controls which scheduling strategy the coordinator uses.
type ActivationMode string

const (
	ModeNotification ActivationMode = "notification"
	ModeExploration   ActivationMode = "exploration"
	ModeHybrid        ActivationMode = "hybrid"
)

// Assignment is a unit of work handed from the coordinator to a runner:
// "activate this agent, for this reason".
type Assignment struct {
	AgentID       string     `json:"agent_id"`
	AgentName     string     `json:"agent_name"`
	TaskType      TaskType   `json:"task_type"`
	Priority      string     `json:"priority,omitempty"` // high, normal, low
	InboxCount    int        `json:"inbox_count,omitempty"`
	LastActivated *time.Time `json:"last_activated,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// FenceToken is a monotonically increasing number minted when the
	// assignment is claimed. It is carried through the activation
	// lifecycle for diagnostics but is not enforced against stale writes.
	FenceToken int64 `json:"fence_token,omitempty"`
}

// BrainConfig describes the LLM backing an agent.
type BrainConfig struct {
	Model       string  `json:"model"`
	Provider    string  `json:"provider"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// CapabilityGrants lists what an agent is permitted to use.
type CapabilityGrants struct {
	Grants     []string `json:"grants,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	MCPServers []string `json:"mcp_servers,omitempty"`
}

// BehaviorConfig tunes an agent's activity caps and responsiveness.
type BehaviorConfig struct {
	RespondToMentions bool `json:"respond_to_mentions"`
	RespondToReplies  bool `json:"respond_to_replies"`
	MaxIterations     int  `json:"max_iterations"`
	CanCreatePosts    bool `json:"can_create_posts"`
	MaxDailyPosts     int  `json:"max_daily_posts"`
	MaxDailyComments  int  `json:"max_daily_comments"`
}

// NetworkConfig scopes an agent's outbound network access.
type NetworkConfig struct {
	Enabled      bool     `json:"enabled"`
	AllowedHosts []string `json:"allowed_hosts,omitempty"`
	BlockedHosts []string `json:"blocked_hosts,omitempty"`
}

// AgentConfig is the complete agent configuration fetched from the
// operator's config store (Git, in the reference deployment) and cached
// locally by the runner. Type selects the executor strategy.
type AgentConfig struct {
	AgentID      string           `json:"agent_id"`
	Name         string           `json:"name"`
	Type         string           `json:"type"` // native, claude_code, aider, goose
	Brain        BrainConfig      `json:"brain"`
	Capabilities CapabilityGrants `json:"capabilities"`
	Behavior     BehaviorConfig   `json:"behavior"`
	Network      NetworkConfig    `json:"network"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	ConfigPath   string           `json:"config_path,omitempty"`

	// CacheTTLSeconds overrides the default config cache TTL for this
	// agent when set to a positive value.
	CacheTTLSeconds int `json:"cache_ttl,omitempty"`
}

// ActivationResult is the outcome of running an agent's activation loop
// to completion (or failure) inside the sandbox.
type ActivationResult struct {
	AgentID                 string  `json:"agent_id"`
	AgentName               string  `json:"agent_name"`
	Success                 bool    `json:"success"`
	PostsCreated            int     `json:"posts_created"`
	CommentsCreated         int     `json:"comments_created"`
	NotificationsProcessed  int     `json:"notifications_processed"`
	TokensInput             int     `json:"tokens_input"`
	TokensOutput            int     `json:"tokens_output"`
	Model                   string  `json:"model"`
	CostUSD                 float64 `json:"cost_usd,omitempty"`
	DurationSeconds         float64 `json:"duration_seconds"`
	Error                   string  `json:"error,omitempty"`
}

// BudgetHealth reflects an agent's current token-spend standing as
// reported by the Hub.
type BudgetHealth struct {
	AgentID       string  `json:"agent_id"`
	DailyLimit    float64 `json:"daily_limit"`
	DailyUsed     float64 `json:"daily_used"`
	MonthlyLimit  float64 `json:"monthly_limit"`
	MonthlyUsed   float64 `json:"monthly_used"`
	Healthy       bool    `json:"healthy"`
}

// RunnerHeartbeat is the status payload a runner periodically writes to
// the coordination store so the fleet can be observed.
type RunnerHeartbeat struct {
	RunnerID  string    `json:"runner_id"`
	Status    string    `json:"status"` // active, busy, idle
	Timestamp time.Time `json:"timestamp"`
}

// LockedAgent describes an agent currently held by a runner's lock, for
// diagnostics endpoints.
type LockedAgent struct {
	AgentID    string `json:"agent_id"`
	Owner      string `json:"owner"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// QueueStats summarizes the work queue's current depth and health.
type QueueStats struct {
	QueueHigh        int64 `json:"queue_high"`
	QueueNormal      int64 `json:"queue_normal"`
	QueueLow         int64 `json:"queue_low"`
	TotalQueued      int64 `json:"total_queued"`
	ActiveTasks      int64 `json:"active_tasks"`
	AgentsInBackoff  int64 `json:"agents_in_backoff"`
}
