package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one chat turn. SpeakerID is empty when a user talks to
// their own twin.
type Interaction struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	SpeakerID string    `json:"speaker_id,omitempty"`
	Message   string    `json:"message"`
	Reply     string    `json:"reply"`
	Matched   bool      `json:"matched"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackRecord is an entry in the feedback log.
type FeedbackRecord struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profile_id"`
	QuestionID *int      `json:"question_id,omitempty"`
	MemoryID   *int64    `json:"memory_id,omitempty"`
	Score      int       `json:"score"`
	Comments   string    `json:"comments,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeployedProfile is the public listing of a deployed twin.
type DeployedProfile struct {
	ID               string `json:"id"`
	Bio              string `json:"bio"`
	TrainingProgress int    `json:"training_progress"`
}
