package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3/realtime"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/bt-bridge/outspeed-realtime/shared"
)

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry is built once and read-only afterwards, so it is safe for
// concurrent Call from the conversation's dispatch goroutines.
type Registry struct {
	logger  shared.LoggerAdapter
	metrics *shared.Metrics
	order   []string
	entries map[string]entry
	system  []SystemTool
}

// NewRegistry validates names and compiles every parameter schema.
func NewRegistry(logger shared.LoggerAdapter, system []SystemTool, tools ...Tool) (*Registry, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	r := &Registry{
		logger:  logger.With(zap.String("component", "tools")),
		entries: make(map[string]entry, len(tools)),
		system:  append([]SystemTool(nil), system...),
	}
	for _, t := range tools {
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, shared.ErrEmptyToolName
		}
		if _, ok := r.entries[name]; ok {
			return nil, fmt.Errorf("%s: %w", name, shared.ErrDuplicateTool)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("%s: %w", name, shared.ErrNoToolHandler)
		}
		if t.Declaration.Type == "" {
			t.Declaration.Type = declarationType
		}
		var schema *gojsonschema.Schema
		if t.Declaration.Parameters != nil {
			var err error
			schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Declaration.Parameters))
			if err != nil {
				return nil, fmt.Errorf("compiling parameter schema of %s: %w", name, err)
			}
		}
		r.entries[name] = entry{tool: t, schema: schema}
		r.order = append(r.order, name)
	}
	for _, s := range r.system {
		if strings.TrimSpace(s.Name) == "" {
			return nil, shared.ErrEmptyToolName
		}
	}
	return r, nil
}

func (r *Registry) SetMetrics(m *shared.Metrics) {
	r.metrics = m
}

// Names lists client tools in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.entries[name]
	return e.tool, ok
}

// Schemas is the name → declaration view advertised to the model.
func (r *Registry) Schemas() map[string]Declaration {
	out := make(map[string]Declaration, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.tool.Declaration
	}
	return out
}

// Callbacks is the name → handler view used for dispatch.
func (r *Registry) Callbacks() map[string]Handler {
	out := make(map[string]Handler, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.tool.Handler
	}
	return out
}

func (r *Registry) Declarations() []Declaration {
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool.Declaration)
	}
	return out
}

// Params returns the declarations in the realtime wire format.
func (r *Registry) Params() []realtime.RealtimeFunctionToolParam {
	out := make([]realtime.RealtimeFunctionToolParam, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool.Declaration.Param())
	}
	return out
}

func (r *Registry) SystemTools() []SystemTool {
	return append([]SystemTool(nil), r.system...)
}

// Call dispatches a tool call made by the model. The only error is
// ErrUnknownTool; everything else, including schema violations and panics
// inside the handler, comes back as the textual result. A failing
// precondition wins over invalid arguments.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (result string, err error) {
	e, ok := r.entries[name]
	if !ok {
		r.metrics.CountToolCall(name, "unknown")
		r.logger.Warn("model requested unknown tool", zap.String("tool", name))
		return "", fmt.Errorf("%s: %w", name, shared.ErrUnknownTool)
	}
	if e.tool.Precondition != nil {
		if msg := e.tool.Precondition(); msg != "" {
			r.metrics.CountToolCall(name, "unavailable")
			r.logger.Warn("tool unavailable", zap.String("tool", name), zap.String("reason", msg))
			return msg, nil
		}
	}
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	if e.schema != nil {
		res, verr := e.schema.Validate(gojsonschema.NewBytesLoader(args))
		if verr != nil {
			r.metrics.CountToolCall(name, "invalid_args")
			r.logger.Error("decoding tool arguments", verr, zap.String("tool", name))
			return fmt.Sprintf("Invalid arguments for %s: %v", name, verr), nil
		}
		if !res.Valid() {
			details := make([]string, len(res.Errors()))
			for i, d := range res.Errors() {
				details[i] = d.String()
			}
			r.metrics.CountToolCall(name, "invalid_args")
			r.logger.Warn("tool arguments failed validation",
				zap.String("tool", name),
				zap.Strings("errors", details),
			)
			return fmt.Sprintf("Invalid arguments for %s: %s", name, strings.Join(details, "; ")), nil
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.CountToolCall(name, "panic")
			r.logger.Error("tool handler panicked", fmt.Errorf("%v", rec), zap.String("tool", name))
			result, err = fmt.Sprintf("Unable to run %s", name), nil
		}
	}()
	result = e.tool.Handler(ctx, args)
	r.metrics.CountToolCall(name, "ok")
	r.logger.Debug("tool call served", zap.String("tool", name), zap.Int("resultBytes", len(result)))
	return result, nil
}
