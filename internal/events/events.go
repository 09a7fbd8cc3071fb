package events

import (
	"encoding/json"
	"time"
)

const (
	TypeCycleStarted   = "cycle_started"
	TypeCycleFinished  = "cycle_finished"
	TypeCycleFailed    = "cycle_failed"
	TypeSessionChecked = "session_checked"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MakeEvent encodes one SSE payload. reqID ties the event to a cycle or HTTP request.
func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// Publisher is what producers need from a Hub.
type Publisher interface {
	Publish(evt string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string) {}

// Nop discards events.
var Nop Publisher = nopPublisher{}
