package tools

import (
	"context"
	"fmt"
)

// functionTool implements Tool over a typed handler. The parameter contract
// is reflected from Args.
type functionTool[Args any] struct {
	info   ToolInfo
	schema map[string]any
	fn     func(ctx context.Context, args Args) (ToolResult, error)
}

func newFunctionTool[Args any](name, description string, fn func(context.Context, Args) (ToolResult, error)) (*functionTool[Args], error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if description == "" {
		return nil, fmt.Errorf("tool description is required")
	}

	schema, params, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", name, err)
	}

	return &functionTool[Args]{
		info:   ToolInfo{Name: name, Description: description, Parameters: params},
		schema: schema,
		fn:     fn,
	}, nil
}

// mustFunctionTool is newFunctionTool for the built-in tools, whose
// definitions are static.
func mustFunctionTool[Args any](name, description string, fn func(context.Context, Args) (ToolResult, error)) *functionTool[Args] {
	t, err := newFunctionTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *functionTool[Args]) GetInfo() ToolInfo      { return t.info }
func (t *functionTool[Args]) Schema() map[string]any { return t.schema }
func (t *functionTool[Args]) GetName() string        { return t.info.Name }
func (t *functionTool[Args]) GetDescription() string { return t.info.Description }

func (t *functionTool[Args]) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	if err := validateArgs(t.info, args); err != nil {
		return ToolResult{ToolName: t.info.Name, Error: err.Error()},
			NewToolExecutionError(t.info.Name, "invalid arguments", err)
	}

	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return ToolResult{ToolName: t.info.Name, Error: err.Error()},
			NewToolExecutionError(t.info.Name, "invalid arguments", err)
	}

	res, err := t.fn(ctx, typed)
	res.ToolName = t.info.Name
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		return res, err
	}
	res.Success = true
	return res, nil
}
