package runner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentOutput_AllFields(t *testing.T) {
	raw, err := json.Marshal(map[string]interface{}{
		"result":          "all done",
		"cost_usd":        1.25,
		"duration_ms":     90000,
		"duration_api_ms": 45000,
		"num_turns":       12,
		"is_error":        false,
		"session_id":      "sess-9",
	})
	require.NoError(t, err)

	res := ParseAgentOutput(raw)
	assert.Equal(t, "all done", res.Output)
	assert.Equal(t, 1.25, res.CostUSD)
	assert.Equal(t, int64(90000), res.DurationMS)
	assert.Equal(t, int64(45000), res.DurationAPIMS)
	assert.Equal(t, 12, res.NumTurns)
	assert.False(t, res.IsError)
	assert.Equal(t, "sess-9", res.SessionID)
}

func TestParseAgentOutput_WrongTypesDropped(t *testing.T) {
	raw := []byte(`{
		"result": 42,
		"cost_usd": "expensive",
		"duration_ms": "long",
		"num_turns": "many",
		"is_error": "yes",
		"session_id": 7
	}`)

	res := ParseAgentOutput(raw)
	assert.Empty(t, res.Output, "wrong-typed result is dropped, not coerced")
	assert.Zero(t, res.CostUSD)
	assert.Zero(t, res.DurationMS)
	assert.Zero(t, res.NumTurns)
	assert.False(t, res.IsError)
	assert.Empty(t, res.SessionID)
}

func TestParseAgentOutput_PartialFields(t *testing.T) {
	res := ParseAgentOutput([]byte(`{"result":"partial"}`))
	assert.Equal(t, "partial", res.Output)
	assert.Zero(t, res.CostUSD)
	assert.Zero(t, res.NumTurns)
}

func TestParseAgentOutput_GarbageYieldsRawText(t *testing.T) {
	res := ParseAgentOutput([]byte("I could not produce JSON today\n"))
	assert.Equal(t, "I could not produce JSON today", res.Output)
	assert.Equal(t, "I could not produce JSON today\n", res.Raw)
}

func TestParseAgentOutput_Empty(t *testing.T) {
	res := ParseAgentOutput(nil)
	require.NotNil(t, res)
	assert.Empty(t, res.Output)
}
