package consultation

import (
	"time"

	"github.com/google/uuid"

	"diagnostic-engine/internal/inference"
)

type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Symptom   string    `json:"symptom,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the aggregate root of one diagnostic conversation.
type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PatientID uuid.UUID `json:"patient_id" db:"patient_id"`

	// Transcript of patient utterances and asked questions.
	History []Message `json:"history" db:"history"`

	// Engine state: disease set, append-only rounds and answered symptoms.
	State inference.State `json:"state" db:"state"`

	// The symptom asked by the last assistant message, awaiting an answer.
	PendingSymptom  string `json:"pending_symptom,omitempty" db:"pending_symptom"`
	PendingQuestion string `json:"pending_question,omitempty" db:"pending_question"`

	Diagnosis []inference.Ranked `json:"diagnosis,omitempty" db:"diagnosis"`

	IsComplete bool      `json:"is_complete" db:"is_complete"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Reply is what a patient turn returns to the caller.
type Reply struct {
	SessionID  uuid.UUID          `json:"session_id"`
	Transcript string             `json:"transcript,omitempty"`
	Response   string             `json:"response"`
	Symptom    string             `json:"symptom,omitempty"`
	Round      int                `json:"round"`
	IsComplete bool               `json:"is_complete"`
	Diagnosis  []inference.Ranked `json:"diagnosis,omitempty"`
}
