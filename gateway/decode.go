package gateway

import (
	"encoding/json"
	"fmt"
)

// DecodeList decodes a collection response that is either a bare JSON array
// or a paginated envelope ({"count": n, "results": [...]}).
func DecodeList[T any](raw json.RawMessage) ([]T, error) {
	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("portal/gateway: decode list: %w", err)
	}
	return page.Results, nil
}
