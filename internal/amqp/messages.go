package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"budgetsync/internal/core"
)

// OperationMirrorMessage carries the readable copy of one ledger entry to the
// mirror worker. It is self-contained: the worker never reads the budget
// document.
type OperationMirrorMessage struct {
	FamilyID   string            `json:"familyId"`
	DeviceName string            `json:"deviceName"`
	Record     core.MirrorRecord `json:"record"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewOperationMirrorMessage stamps a mirror record for publishing.
func NewOperationMirrorMessage(familyID, deviceName string, rec core.MirrorRecord) *OperationMirrorMessage {
	return &OperationMirrorMessage{
		FamilyID:   familyID,
		DeviceName: deviceName,
		Record:     rec,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *OperationMirrorMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OperationMirrorMessageFromJSON decodes a message and rejects records
// without an id.
func OperationMirrorMessageFromJSON(data []byte) (*OperationMirrorMessage, error) {
	var msg OperationMirrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Record.ID == 0 {
		return nil, errors.New("mirror message without record id")
	}
	return &msg, nil
}
