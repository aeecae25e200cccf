// Package tools binds the function declarations advertised to the voice
// model to the Go callbacks that serve them.
package tools

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
)

const declarationType = "function"

// Declaration is the schema half of a client tool.
type Declaration struct {
	Name        string         `json:"name" yaml:"name"`
	Type        string         `json:"type" yaml:"type"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// Param converts the declaration to the realtime function tool wire type.
func (d Declaration) Param() realtime.RealtimeFunctionToolParam {
	return realtime.RealtimeFunctionToolParam{
		Name:        param.NewOpt(d.Name),
		Description: param.NewOpt(d.Description),
		Parameters:  d.Parameters,
		Type:        realtime.RealtimeFunctionToolTypeFunction,
	}
}

// Handler serves a tool call. It must never panic past its own boundary and
// reports every failure as its textual result, so the model always gets text.
type Handler func(ctx context.Context, args json.RawMessage) string

// Tool binds a declaration and its handler under one name.
type Tool struct {
	Declaration Declaration
	Handler     Handler
	// Precondition, when set, runs before argument validation. A non-empty
	// result is returned to the model as is and the handler is skipped.
	Precondition func() string
}

func (t Tool) Name() string {
	return t.Declaration.Name
}

// SystemTool is executed by the remote service; it is only declared here.
type SystemTool struct {
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

const SystemToolEndCall = "end_call"

func DefaultSystemTools() []SystemTool {
	return []SystemTool{{Name: SystemToolEndCall, Enabled: true}}
}

// objectSchema builds a JSON schema object with string properties.
func objectSchema(required []string, props map[string]string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{
			"type":        "string",
			"description": desc,
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}
