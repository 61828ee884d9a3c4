package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotEvent announces that a new ledger image reached remote storage.
// It carries no ledger data; receivers fetch the image themselves.
type SnapshotEvent struct {
	Revision  string    `json:"revision"`
	Operation string    `json:"operation"`
	Size      int       `json:"size"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSnapshotEvent(revision, operation string, size int, origin string) *SnapshotEvent {
	return &SnapshotEvent{
		Revision:  revision,
		Operation: operation,
		Size:      size,
		Origin:    origin,
		Timestamp: time.Now(),
	}
}

func (e *SnapshotEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func SnapshotEventFromJSON(data []byte) (*SnapshotEvent, error) {
	var e SnapshotEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Revision == "" {
		return nil, fmt.Errorf("snapshot event without revision")
	}
	return &e, nil
}
