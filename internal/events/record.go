package events

import (
	"time"

	"launchpad.org/internal/ids"
)

// Record is the serialisable form of an event as delivered to streams and the
// journal.
type Record struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	At         time.Time         `json:"at"`
	Attributes map[string]string `json:"attributes"`
}

// NewRecord stamps e with a sortable id and the given time.
func NewRecord(e Event, at time.Time) Record {
	attrs := e.Attributes()
	if attrs == nil {
		attrs = map[string]string{}
	}
	return Record{
		ID:         ids.New(),
		Type:       e.EventType(),
		At:         at.UTC(),
		Attributes: attrs,
	}
}
