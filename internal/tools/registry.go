// Package tools provides the tool registry the session loop dispatches
// ToolCallRequired verdicts to. Tool business logic lives outside this
// repository; the registry validates input against each tool's JSON
// Schema and enforces the execution timeout the core deliberately
// leaves to this collaborator.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxNameLength is the maximum length of a tool name.
	MaxNameLength = 256

	// MaxInputSize is the maximum size of tool input JSON (10MB).
	MaxInputSize = 10 << 20

	// DefaultTimeout bounds a single tool execution.
	DefaultTimeout = 30 * time.Second
)

// Tool is one executable capability offered to the model.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string

	// Description returns a short human/model-readable description.
	Description() string

	// Schema returns the JSON Schema document for the tool's input,
	// or "" to skip validation.
	Schema() string

	// Execute runs the tool with validated JSON input.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry manages available tools with thread-safe registration and
// lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]entry
	timeout time.Duration
}

// NewRegistry creates an empty registry with the default execution
// timeout.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]entry),
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the per-execution timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.timeout = d
	}
}

// Register adds a tool, compiling its input schema. A tool with the
// same name is replaced.
func (r *Registry) Register(tool Tool) error {
	if len(tool.Name()) == 0 || len(tool.Name()) > MaxNameLength {
		return fmt.Errorf("invalid tool name %q", tool.Name())
	}

	var compiled *jsonschema.Schema
	if doc := tool.Schema(); doc != "" {
		schema, err := jsonschema.CompileString(tool.Name()+".schema.json", doc)
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", tool.Name(), err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = entry{tool: tool, schema: compiled}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Execute validates the input against the tool's schema and runs the
// tool under the registry timeout. The returned error covers lookup,
// validation, timeout, and execution failures; the session loop feeds
// it back to the model as a ToolError event.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	if len(input) > MaxInputSize {
		return "", fmt.Errorf("tool %s: input exceeds %d bytes", name, MaxInputSize)
	}

	r.mu.RLock()
	e, ok := r.tools[name]
	timeout := r.timeout
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}

	if e.schema != nil {
		decoder := json.NewDecoder(bytes.NewReader(input))
		decoder.UseNumber()
		var value any
		if err := decoder.Decode(&value); err != nil {
			return "", fmt.Errorf("tool %s: invalid input JSON: %w", name, err)
		}
		if err := e.schema.Validate(value); err != nil {
			return "", fmt.Errorf("tool %s: input rejected by schema: %w", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.tool.Execute(ctx, input)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	InputSchema     string
	Fn              func(ctx context.Context, input json.RawMessage) (string, error)
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.ToolDescription }
func (f Func) Schema() string      { return f.InputSchema }

func (f Func) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return f.Fn(ctx, input)
}
