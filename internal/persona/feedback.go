package persona

import "fmt"

const (
	minConfidence = 0.2
	maxConfidence = 1.0

	confidenceStep = 0.1
	weightStep     = 0.5
	neutralScore   = 3
)

// Feedback rates a knowledge entry, a memory, or both.
type Feedback struct {
	QuestionID *int   `json:"question_id,omitempty"`
	MemoryID   *int64 `json:"memory_id,omitempty"`
	Score      int    `json:"score"`
	Comments   string `json:"comments,omitempty"`
}

// ClampScore bounds a feedback score to 1..5.
func ClampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}

// ProvideFeedback nudges confidence and emotional weight by how far the
// score sits from neutral. Every named target must exist; otherwise nothing
// changes.
func (e *Engine) ProvideFeedback(p Profile, fb Feedback) (Profile, error) {
	if fb.QuestionID == nil && fb.MemoryID == nil {
		return Profile{}, fmt.Errorf("%w: feedback needs a question or memory", ErrInvalidInput)
	}
	delta := float64(ClampScore(fb.Score) - neutralScore)
	out := p.Clone()

	if fb.QuestionID != nil {
		i := out.knowledgeIndex(*fb.QuestionID)
		if i < 0 {
			return Profile{}, fmt.Errorf("knowledge entry for question %d: %w", *fb.QuestionID, ErrNotFound)
		}
		k := &out.Knowledge[i]
		k.Confidence = clamp(k.Confidence+delta*confidenceStep, minConfidence, maxConfidence)
	}

	if fb.MemoryID != nil {
		i := out.memoryIndex(*fb.MemoryID)
		if i < 0 {
			return Profile{}, fmt.Errorf("memory %d: %w", *fb.MemoryID, ErrNotFound)
		}
		m := &out.Memories[i]
		m.EmotionalWeight = clamp(m.EmotionalWeight+delta*weightStep, memoryFloor, memoryCeiling)
	}

	out.UpdatedAt = e.clock.Now()
	return out, nil
}
