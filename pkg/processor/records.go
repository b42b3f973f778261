package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// decodeRecords extracts the record list from an API response body.
// Collections arrive wrapped in an envelope keyed by the endpoint name;
// bare arrays and single objects are tolerated the way the API returns
// them for some paths.
func decodeRecords(body []byte, endpoint string) ([]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch v := payload.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{endpoint, "data", "results"} {
			if list, ok := v[key].([]any); ok {
				return list, nil
			}
		}
		if _, ok := v["id"]; ok {
			return []any{v}, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}
}

// buildRow filters one record to the column list. Fields absent from
// the record become empty cells. A record that is not an object, or
// that carries none of the endpoint's required fields, fails
// validation and is skipped by the caller.
func buildRow(record any, columns, required []string) ([]string, error) {
	obj, ok := record.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record is %T, not an object", record)
	}

	if len(required) > 0 {
		found := false
		for _, f := range required {
			if _, ok := obj[f]; ok {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("record carries none of the required fields")
		}
	}

	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = formatValue(obj[col])
	}
	return row, nil
}

// formatValue renders one record value as a CSV cell.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", val)
	}
}
