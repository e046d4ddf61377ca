package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RecordSavedMessage announces that a user's Financial Record for a year was
// persisted. The consumer reloads the record from storage, so the message
// carries only the key.
type RecordSavedMessage struct {
	UserID    string    `json:"user_id"`
	Year      int       `json:"year"`
	Timestamp time.Time `json:"timestamp"`
}

var errInvalidMessage = errors.New("invalid record saved message")

func NewRecordSavedMessage(userID string, year int) *RecordSavedMessage {
	return &RecordSavedMessage{
		UserID:    userID,
		Year:      year,
		Timestamp: time.Now().UTC(),
	}
}

// Key identifies the record, e.g. "6f1c.../2026".
func (m *RecordSavedMessage) Key() string {
	return fmt.Sprintf("%s/%d", m.UserID, m.Year)
}

func (m *RecordSavedMessage) validate() error {
	switch {
	case m.UserID == "":
		return fmt.Errorf("%w: missing user_id", errInvalidMessage)
	case m.Year <= 0:
		return fmt.Errorf("%w: year %d", errInvalidMessage, m.Year)
	}
	return nil
}

// decodeRecordSaved parses and validates a delivery body.
func decodeRecordSaved(body []byte) (*RecordSavedMessage, error) {
	var msg RecordSavedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
