package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	portal "github.com/academia-portal/portal-go"
)

// mapError converts a non-2xx, non-401 response into the portal error taxonomy.
func mapError(op string, status int, body []byte) error {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return validationError(body)
	case status == http.StatusForbidden:
		return &portal.AuthorizationError{Action: op, Detail: detail(body)}
	case status == http.StatusNotFound:
		return &portal.APIError{StatusCode: status, Body: detail(body), Err: portal.ErrNotFound}
	case status == http.StatusConflict:
		return &portal.WorkflowStateError{Op: op, Detail: detail(body)}
	case status == http.StatusUnauthorized:
		return &portal.AuthError{Op: op, Detail: detail(body), Err: portal.ErrInvalidCredentials}
	default:
		return &portal.APIError{StatusCode: status, Body: detail(body)}
	}
}

// validationError parses DRF-style error bodies:
//
//	{"detail": "msg"}
//	{"non_field_errors": ["msg"]}
//	{"field": ["msg", ...], "other": "msg"}
//	["msg", ...]
func validationError(body []byte) *portal.ValidationError {
	ve := &portal.ValidationError{}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ve
	}

	var list []string
	if err := json.Unmarshal(trimmed, &list); err == nil {
		ve.Message = strings.Join(list, " ")
		return ve
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		ve.Message = truncate(string(trimmed))
		return ve
	}

	var general []string
	for key, raw := range obj {
		msgs := messages(raw)
		if len(msgs) == 0 {
			continue
		}
		switch key {
		case "detail", "non_field_errors", "error", "message":
			general = append(general, msgs...)
		default:
			if ve.Fields == nil {
				ve.Fields = make(map[string][]string)
			}
			ve.Fields[key] = msgs
		}
	}
	sort.Strings(general)
	ve.Message = strings.Join(general, " ")
	return ve
}

// messages flattens a DRF error value (string, list of strings, or nested
// object) into plain strings.
func messages(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			out = append(out, messages(item)...)
		}
		return out
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			for _, m := range messages(obj[k]) {
				out = append(out, fmt.Sprintf("%s: %s", k, m))
			}
		}
		return out
	}
	return nil
}

// detail extracts a human-readable message from an error body.
func detail(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if raw, ok := obj[key]; ok {
				if msgs := messages(raw); len(msgs) > 0 {
					return strings.Join(msgs, " ")
				}
			}
		}
	}
	return truncate(string(trimmed))
}

func truncate(s string) string {
	const limit = 256
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
