// Package tools defines the tools experts call from the reasoning loop and
// the registry that describes and dispatches them.
//
// A tool's parameter contract is generated once from its typed argument
// struct. The same contract renders the tool section of expert prompts and
// validates decoded decisions before dispatch.
package tools

import (
	"context"
	"time"
)

// Tool names.
const (
	StructuredQueryName = "structured_query"
	SemanticSearchName  = "semantic_search"
	CrawlURLName        = "crawl_url"
)

type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolResult is the outcome of one tool call. Content is the observation
// text handed back to the model.
type ToolResult struct {
	Success       bool          `json:"success"`
	Content       string        `json:"content,omitempty"`
	Output        any           `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ToolName      string        `json:"tool_name"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

type Tool interface {
	GetInfo() ToolInfo

	// Schema returns the JSON schema of the tool arguments.
	Schema() map[string]any

	Execute(ctx context.Context, args map[string]any) (ToolResult, error)

	GetName() string

	GetDescription() string
}
