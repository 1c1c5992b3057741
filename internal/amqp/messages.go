package amqp

import (
	"encoding/json"
	"time"
)

// Reasons carried by sync requests.
const (
	ReasonQueueChanged = "queue_changed"
	ReasonManual       = "manual"
)

// SyncRequestMessage asks a worker to run a sync cycle. It carries no row
// data: the worker replays whatever is in the local queue.
type SyncRequestMessage struct {
	Reason    string    `json:"reason"`
	Table     string    `json:"table,omitempty"`
	RecordID  string    `json:"record_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSyncRequestMessage(reason, table, recordID string) *SyncRequestMessage {
	return &SyncRequestMessage{
		Reason:    reason,
		Table:     table,
		RecordID:  recordID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SyncRequestMessageFromJSON(data []byte) (*SyncRequestMessage, error) {
	var msg SyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
