package runner

import (
	"encoding/json"
	"strings"
)

// ParseAgentOutput decodes the agent's stdout as a JSON object with
// optional fields. Each field is taken only when its runtime type
// matches; wrong-typed fields are silently ignored. Unparsable output
// yields a Result whose Output is the raw text. Never returns nil and
// never fails.
func ParseAgentOutput(raw []byte) *Result {
	text := string(raw)
	res := &Result{Raw: text}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		res.Output = strings.TrimSpace(text)
		return res
	}

	if v, ok := obj["result"].(string); ok {
		res.Output = v
	}
	if v, ok := obj["cost_usd"].(float64); ok {
		res.CostUSD = v
	}
	if v, ok := obj["duration_ms"].(float64); ok {
		res.DurationMS = int64(v)
	}
	if v, ok := obj["duration_api_ms"].(float64); ok {
		res.DurationAPIMS = int64(v)
	}
	if v, ok := obj["num_turns"].(float64); ok {
		res.NumTurns = int(v)
	}
	if v, ok := obj["is_error"].(bool); ok {
		res.IsError = v
	}
	if v, ok := obj["session_id"].(string); ok {
		res.SessionID = v
	}
	return res
}
