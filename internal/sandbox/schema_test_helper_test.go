package sandbox

import (
	"bytes"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

func newCompilerForTest(t *testing.T) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("agent-output.json", bytes.NewReader([]byte(DefaultAgentOutputSchema))); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile("agent-output.json")
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}
