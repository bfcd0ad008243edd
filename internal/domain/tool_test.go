package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaTool(schema string) *Tool {
	return &Tool{Name: "break_down_task", ParameterSchema: json.RawMessage(schema)}
}

func TestValidateArguments_NoSchemaIsNoOp(t *testing.T) {
	tool := &Tool{Name: "end_task"}
	assert.NoError(t, tool.ValidateArguments(map[string]any{"anything": true}))
}

func TestValidateArguments_RejectsMissingRequiredField(t *testing.T) {
	tool := schemaTool(`{"type":"object","required":["approach"],"properties":{"approach":{"type":"string"}}}`)
	err := tool.ValidateArguments(map[string]any{})
	require.Error(t, err)
}

func TestValidateArguments_AcceptsValidArguments(t *testing.T) {
	tool := schemaTool(`{"type":"object","required":["approach"],"properties":{"approach":{"type":"string"}}}`)
	err := tool.ValidateArguments(map[string]any{"approach": "split into two"})
	assert.NoError(t, err)
}

func TestValidateArguments_RejectsWrongType(t *testing.T) {
	tool := schemaTool(`{"type":"object","required":["approach"],"properties":{"approach":{"type":"string"}}}`)
	err := tool.ValidateArguments(map[string]any{"approach": 42})
	require.Error(t, err)
}

func TestCompileSchema_CachesCompiledSchema(t *testing.T) {
	tool := schemaTool(`{"type":"object","required":["approach"],"properties":{"approach":{"type":"string"}}}`)
	s1, err := tool.CompileSchema()
	require.NoError(t, err)
	require.NotNil(t, s1)
	s2, err := tool.CompileSchema()
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestCompileSchema_InvalidSchemaDocumentErrors(t *testing.T) {
	tool := schemaTool(`{not valid json`)
	_, err := tool.CompileSchema()
	require.Error(t, err)
	// The error is cached too; a second call must not try to recompile.
	_, err2 := tool.CompileSchema()
	require.Error(t, err2)
	assert.Equal(t, err, err2)
}

func TestIsProcessTrigger_ResolvesAliases(t *testing.T) {
	tool := &Tool{Name: "start_subtask"}
	name, ok := tool.IsProcessTrigger()
	assert.True(t, ok)
	assert.Equal(t, "create_subtask", name)

	local := &Tool{Name: "read_context_document"}
	_, ok = local.IsProcessTrigger()
	assert.False(t, ok)
}
