package services

import "github.com/cefrlab/speaking-test-service/internal/models"

// ===== REQUEST STRUCTURES =====

// SubmitAnswerRequest carries one transcribed answer into the registry.
// Transcription has already happened at this point; the registry never sees
// audio bytes.
type SubmitAnswerRequest struct {
	SessionID     string `json:"session_id" validate:"required"`
	Part          string `json:"part" validate:"required"`
	QuestionIndex int    `json:"question_index" validate:"min=0"`
	Transcript    string `json:"transcript"`
}

// ===== RESPONSE STRUCTURES =====

// PartView is the client-facing shape of one part: normalized question list
// plus media and argument prompts.
type PartView struct {
	Name      string   `json:"name"`
	Questions []string `json:"questions"`
	Pictures  []string `json:"pictures"`
	For       []string `json:"For"`
	Against   []string `json:"Against"`
}

// StartTestResponse is returned to the client when a session is created.
type StartTestResponse struct {
	SessionID string     `json:"session_id"`
	TestTitle string     `json:"test_title"`
	Parts     []PartView `json:"parts"`
}

// SubmitAnswerResponse reports whether the accepted answer completed the
// session.
type SubmitAnswerResponse struct {
	Completed  bool   `json:"completed"`
	Transcript string `json:"transcription"`
	Received   int    `json:"received"`
	Expected   int    `json:"expected"`
}

// FinalResultResponse carries the verdict plus whether it was served from
// the session cache or freshly computed.
type FinalResultResponse struct {
	Final  models.FinalResult `json:"final"`
	Raw    string             `json:"raw,omitempty"`
	Cached bool               `json:"cached"`
}
