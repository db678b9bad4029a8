package tradier

import "encoding/json"

// quotesResponse is the /markets/quotes envelope. The quote node is an
// object for one symbol and an array for several, so it stays raw until
// decoded by quoteRows.
type quotesResponse struct {
	Quotes struct {
		Quote json.RawMessage `json:"quote"`
	} `json:"quotes"`
}

// chainResponse is the /markets/options/chains envelope.
type chainResponse struct {
	Options struct {
		Option json.RawMessage `json:"option"`
	} `json:"options"`
}

// expirationsResponse is the /markets/options/expirations envelope.
type expirationsResponse struct {
	Expirations struct {
		Date []string `json:"date"`
	} `json:"expirations"`
}

// historyResponse is the /markets/history envelope.
type historyResponse struct {
	History struct {
		Day json.RawMessage `json:"day"`
	} `json:"history"`
}

// timesalesResponse is the /markets/timesales envelope.
type timesalesResponse struct {
	Series struct {
		Data json.RawMessage `json:"data"`
	} `json:"series"`
}

// statsResponse is the volatility-statistics envelope.
type statsResponse struct {
	Stats struct {
		Stat json.RawMessage `json:"stat"`
	} `json:"stats"`
}

// decodeRows decodes a node that the provider serializes as either a single
// object or an array of objects.
func decodeRows(raw json.RawMessage) []map[string]interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var many []map[string]interface{}
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}

	var one map[string]interface{}
	if err := json.Unmarshal(raw, &one); err == nil {
		return []map[string]interface{}{one}
	}

	return nil
}

// Helper functions to safely extract values from provider rows. A missing or
// mistyped field is nil, never zero.

func getFloat64(m map[string]interface{}, key string) *float64 {
	if val, ok := m[key]; ok && val != nil {
		switch v := val.(type) {
		case float64:
			return &v
		case int:
			f := float64(v)
			return &f
		case int64:
			f := float64(v)
			return &f
		}
	}
	return nil
}

func getInt64(m map[string]interface{}, key string) *int64 {
	if val, ok := m[key]; ok && val != nil {
		switch v := val.(type) {
		case float64:
			i := int64(v)
			return &i
		case int:
			i := int64(v)
			return &i
		case int64:
			return &v
		}
	}
	return nil
}

func getString(m map[string]interface{}, key string) *string {
	if val, ok := m[key]; ok && val != nil {
		if s, ok := val.(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if val, ok := m[key]; ok && val != nil {
		if sub, ok := val.(map[string]interface{}); ok {
			return sub
		}
	}
	return nil
}
