package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	SessionStarted   EventType = "session.started"
	AnswerRecorded   EventType = "answer.recorded"
	SessionCompleted EventType = "session.completed"
	ResultComputed   EventType = "result.computed"
)

const (
	eventSource  = "speaking-test-service"
	eventVersion = "1.0"
)

// SessionEvent describes one step of a session lifecycle for downstream
// analytics consumers.
type SessionEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	SessionID string `json:"session_id"`
	TestTitle string `json:"test_title"`

	Part          string `json:"part,omitempty"`
	QuestionIndex *int   `json:"question_index,omitempty"`
	Received      int    `json:"received,omitempty"`
	Expected      int    `json:"expected,omitempty"`
	Level         string `json:"level,omitempty"`
}

// NewSessionEvent creates a session event with generated id and timestamp.
func NewSessionEvent(eventType EventType, sessionID, testTitle string) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		TestTitle: testTitle,
	}
}
