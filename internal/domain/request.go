// Package domain holds the gateway's normalized wire and value types: the
// chat request/response shapes, provider error taxonomy, and the records
// the router core attaches to a response.
package domain

// Message is one turn in a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized request the router and every provider
// adapter operate on, independent of HTTP transport.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Usage reports token counts for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is a single completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatResponse is the normalized response every provider adapter returns
// and the router enriches with RoutingMetadata before handing it back.
type ChatResponse struct {
	ID               string          `json:"id"`
	Object           string          `json:"object"`
	Created          int64           `json:"created"`
	Model            string          `json:"model"`
	Choices          []Choice        `json:"choices"`
	Usage            Usage           `json:"usage"`
	RoutingMetadata  *RoutingMetadata `json:"routing_metadata,omitempty"`
}

// Attempt records the outcome of a single outbound call to one provider
// within one client request.
type Attempt struct {
	Provider   string `json:"provider"`
	Status     string `json:"status"` // "success" | "failed"
	DurationMs int64  `json:"duration"`
	Error      string `json:"error,omitempty"`
}

// RoutingMetadata is attached to every successful response, and echoed (via
// the error body's Details) on a failed one.
type RoutingMetadata struct {
	PrimaryProvider      string    `json:"primary_provider"`
	Attempts             []Attempt `json:"attempts"`
	TotalProcessingTime  int64     `json:"total_processing_time"`
	PolicyUsed           string    `json:"policy_used"`
	APIProcessingTime    int64     `json:"api_processing_time,omitempty"`
	Timestamp            string    `json:"timestamp"`
	TenantID             string    `json:"tenant_id"`
}

// RoutingPlan is the dry-run counterpart of RoutingMetadata: the ordered
// candidate list a request would be tried against, without executing any of
// the attempts.
type RoutingPlan struct {
	TenantID   string   `json:"tenant_id"`
	PolicyUsed string   `json:"policy_used"`
	Ordered    []string `json:"ordered_providers"`
	Timestamp  string   `json:"timestamp"`
}

// PingResult is the outcome of a provider adapter's health probe.
type PingResult struct {
	Status    string // "healthy" | "unhealthy"
	LatencyMs int64
	ErrorKind ErrorKind
}
