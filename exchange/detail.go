package exchange

import (
	"encoding/json"
	"strings"
)

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

type validationError struct {
	Msg string `json:"msg"`
}

// parseDetail extracts the human-readable detail from an error body. The
// detail is either a string or a list of field-level validation errors.
// An unstructured body yields "".
func parseDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			return s
		}
		var list []validationError
		if err := json.Unmarshal(eb.Detail, &list); err == nil {
			msgs := make([]string, 0, len(list))
			for _, v := range list {
				if v.Msg != "" {
					msgs = append(msgs, v.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
		var one validationError
		if err := json.Unmarshal(eb.Detail, &one); err == nil {
			return one.Msg
		}
	}
	return eb.Error
}
