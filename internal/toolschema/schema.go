// Package toolschema gates a tool's arguments against a JSON Schema before
// the call ever reaches the tool's Execute method, the same compile-and-
// cache approach the teacher's plugin manifest validator uses for plugin
// config.
package toolschema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ralphagent/ralph/internal/agent"
	"github.com/ralphagent/ralph/pkg/models"
)

var (
	cacheMu sync.Mutex
	cache   = map[string]*jsonschema.Schema{}
)

func compile(name string, schema []byte) (*jsonschema.Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	key := name + "\x00" + string(schema)
	if compiled, ok := cache[key]; ok {
		return compiled, nil
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	cache[key] = compiled
	return compiled, nil
}

// validated wraps a Tool, validating its arguments against a compiled
// schema before every Execute call.
type validated struct {
	agent.Tool
	schema *jsonschema.Schema
}

// Wrap compiles schemaJSON once and returns tool decorated with an argument
// gate: a call whose arguments fail schema validation never reaches
// tool.Execute and instead comes back as a failed ToolResult of kind
// "schema_invalid".
func Wrap(tool agent.Tool, schemaJSON []byte) (agent.Tool, error) {
	schema, err := compile(tool.Name(), schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("toolschema: compiling schema for %s: %w", tool.Name(), err)
	}
	return &validated{Tool: tool, schema: schema}, nil
}

func (v *validated) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	var decoded any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return models.NewErrorResult("", "invalid_arguments", "arguments are not valid JSON: "+err.Error()), nil
		}
	}
	if err := v.schema.Validate(decoded); err != nil {
		return models.NewErrorResult("", "schema_invalid", fmt.Sprintf("arguments for %s failed schema validation: %v", v.Tool.Name(), err)), nil
	}
	return v.Tool.Execute(ctx, args)
}
