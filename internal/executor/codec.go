package executor

import "encoding/json"

// encodeRows/decodeRows serialize the executor's row shape for the
// query-result cache payload.
func encodeRows(rows []map[string]any) ([]byte, error) {
	return json.Marshal(rows)
}

func decodeRows(payload []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
