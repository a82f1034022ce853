package toolschema

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ralphagent/ralph/internal/agent"
	"github.com/ralphagent/ralph/pkg/models"
)

type fakeTool struct {
	called bool
}

func (t *fakeTool) Name() string        { return "fake_tool" }
func (t *fakeTool) Description() string { return "a fake tool for testing" }
func (t *fakeTool) ThreadSafe() bool    { return true }

func (t *fakeTool) Execute(_ context.Context, args json.RawMessage) (models.ToolResult, error) {
	t.called = true
	return models.ToolResult{Result: `{"ok":true}`, Success: true}, nil
}

const fakeSchema = `{
	"type": "object",
	"properties": {"path": {"type": "string"}},
	"required": ["path"],
	"additionalProperties": false
}`

func TestWrapAllowsValidArguments(t *testing.T) {
	inner := &fakeTool{}
	wrapped, err := Wrap(inner, []byte(fakeSchema))
	if err != nil {
		t.Fatal(err)
	}

	result, err := wrapped.Execute(context.Background(), json.RawMessage(`{"path":"/tmp/a"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !inner.called {
		t.Fatal("expected the inner tool's Execute to be called for valid arguments")
	}
}

func TestWrapRejectsInvalidArgumentsWithoutCallingInner(t *testing.T) {
	inner := &fakeTool{}
	wrapped, err := Wrap(inner, []byte(fakeSchema))
	if err != nil {
		t.Fatal(err)
	}

	result, err := wrapped.Execute(context.Background(), json.RawMessage(`{"unexpected":"field"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("expected schema validation failure to be reported as an unsuccessful result")
	}
	if inner.called {
		t.Fatal("expected the inner tool's Execute to never be called for invalid arguments")
	}

	var body models.ErrorBody
	if err := json.Unmarshal([]byte(result.Result), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "schema_invalid" {
		t.Fatalf("expected error kind schema_invalid, got %q", body.Error)
	}
}

func TestWrapRejectsMalformedJSON(t *testing.T) {
	inner := &fakeTool{}
	wrapped, err := Wrap(inner, []byte(fakeSchema))
	if err != nil {
		t.Fatal(err)
	}

	result, err := wrapped.Execute(context.Background(), json.RawMessage(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("expected malformed JSON arguments to fail")
	}
	if inner.called {
		t.Fatal("expected the inner tool to never be called for malformed JSON")
	}
}

func TestCompileCachesIdenticalSchemas(t *testing.T) {
	s1, err := compile("cache_test_tool", []byte(fakeSchema))
	if err != nil {
		t.Fatal(err)
	}
	s2, err := compile("cache_test_tool", []byte(fakeSchema))
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("expected an identical (name, schema) pair to hit the cache and return the same pointer")
	}
}

func TestWrapInvalidSchemaErrors(t *testing.T) {
	inner := &fakeTool{}
	if _, err := Wrap(inner, []byte(`not a schema`)); err == nil {
		t.Fatal("expected an error compiling an invalid schema document")
	}
}

var _ agent.Tool = (*fakeTool)(nil)
