package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeBody decodes a JSON object keeping numbers exact. Non-objects yield nil.
func decodeBody(raw []byte) map[string]interface{} {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

// ExtractPayoutID finds the payout id in the known response shapes:
// {"data":{"payout_id":..}}, {"data":{"id":..}}, {"payout_id":..}, {"id":..}.
// It reports false when no id is present.
func ExtractPayoutID(body map[string]interface{}) (string, bool) {
	return lookup(body, "payout_id", "id")
}

// ExtractStatus finds "status" at the top level or under "data".
func ExtractStatus(body map[string]interface{}) (string, bool) {
	return lookup(body, "status")
}

func lookup(body map[string]interface{}, keys ...string) (string, bool) {
	if body == nil {
		return "", false
	}
	if data, ok := body["data"].(map[string]interface{}); ok {
		if v, ok := firstString(data, keys); ok {
			return v, true
		}
	}
	return firstString(body, keys)
}

func firstString(m map[string]interface{}, keys []string) (string, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case json.Number:
			return v.String(), true
		case float64:
			return fmt.Sprintf("%.0f", v), true
		}
	}
	return "", false
}
