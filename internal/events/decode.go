package events

import "encoding/json"

func typeOf(evt string) string {
	var e struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(evt), &e); err != nil {
		return ""
	}
	return e.Type
}
