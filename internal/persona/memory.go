package persona

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/kalambet/twin/internal/text"
)

const (
	memoryFloor   = 0.1
	memoryCeiling = 10.0

	initialDecayRate = 0.95
	maxDecayRate     = 0.99

	// Memories recalled more than reinforceAfter times move their decay rate
	// a fraction reinforceStep of the way toward maxDecayRate on each pass.
	reinforceAfter = 5
	reinforceStep  = 0.2

	significantLength     = 50
	significantImportance = 4
	unknownImportance     = 3
)

// isSignificant decides whether an answer becomes a memory.
func isSignificant(answer string, importance int) bool {
	return utf8.RuneCountInString(answer) > significantLength || importance >= significantImportance
}

func newMemory(id int64, content string, importance int, emotion text.Emotion, now time.Time) Memory {
	m := Memory{
		ID:              id,
		Content:         content,
		EmotionalWeight: clamp(float64(importance), memoryFloor, memoryCeiling),
		LastAccessed:    now,
		DecayRate:       initialDecayRate,
		CreatedAt:       now,
		DecayedAt:       now,
	}
	if emotion != text.EmotionNone {
		m.Emotions = []string{string(emotion)}
	}
	return m
}

// decayMemories applies weight *= rate^days since the later of last access
// and last decay, drops memories that reach the floor, and reinforces the
// decay rate of frequently recalled ones.
func decayMemories(ms []Memory, now time.Time) []Memory {
	kept := ms[:0]
	for _, m := range ms {
		anchor := m.LastAccessed
		if m.DecayedAt.After(anchor) {
			anchor = m.DecayedAt
		}
		w := m.EmotionalWeight * math.Pow(m.DecayRate, daysBetween(anchor, now))
		if w <= memoryFloor {
			continue
		}
		m.EmotionalWeight = clamp(w, memoryFloor, memoryCeiling)
		m.DecayedAt = now
		if m.AccessCount > reinforceAfter {
			m.DecayRate = math.Min(maxDecayRate, m.DecayRate+(maxDecayRate-m.DecayRate)*reinforceStep)
		}
		kept = append(kept, m)
	}
	return kept
}

// topMemory returns the index of the heaviest memory, first on ties, or -1.
func topMemory(ms []Memory) int {
	best := -1
	for i, m := range ms {
		if best < 0 || m.EmotionalWeight > ms[best].EmotionalWeight {
			best = i
		}
	}
	return best
}

func touchMemory(m *Memory, now time.Time) {
	m.AccessCount++
	m.LastAccessed = now
}
