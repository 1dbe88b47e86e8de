package persona

import (
	"time"

	"github.com/kalambet/twin/internal/text"
)

// Profile is the aggregate root the engine reads and rewrites. The engine
// never mutates a Profile passed to it; every operation works on a clone and
// returns the updated value for the caller to persist.
type Profile struct {
	ID               string                `json:"id"`
	UserRef          string                `json:"user_ref"`
	Bio              string                `json:"bio,omitempty"`
	Avatar           string                `json:"avatar,omitempty"`
	Traits           []Trait               `json:"traits"`
	Knowledge        []KnowledgeEntry      `json:"knowledge"`
	Memories         []Memory              `json:"memories"`
	Preferences      Preferences           `json:"preferences"`
	History          []ConversationContext `json:"history"`
	TrainingProgress int                   `json:"training_progress"`
	Deployed         bool                  `json:"deployed"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// KnowledgeEntry is one answered question.
type KnowledgeEntry struct {
	QuestionID int       `json:"question_id"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	LastUsed   time.Time `json:"last_used"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Trait is a decayed, frequency-derived descriptor keyed by a normalized word.
type Trait struct {
	Name        string    `json:"name"`
	Strength    float64   `json:"strength"`
	LastUpdated time.Time `json:"last_updated"`
}

// Memory is an emotionally weighted snapshot of a significant answer.
// DecayedAt anchors the decay pass so repeated refreshes do not apply the
// same interval twice.
type Memory struct {
	ID              int64     `json:"id"`
	Content         string    `json:"content"`
	EmotionalWeight float64   `json:"emotional_weight"`
	LastAccessed    time.Time `json:"last_accessed"`
	AccessCount     int       `json:"access_count"`
	Emotions        []string  `json:"emotions,omitempty"`
	DecayRate       float64   `json:"decay_rate"`
	CreatedAt       time.Time `json:"created_at"`
	DecayedAt       time.Time `json:"decayed_at"`
}

// Preferences control reply formatting.
type Preferences struct {
	Style     text.Style `json:"style"`
	Depth     int        `json:"depth"`
	Formality int        `json:"formality"`
}

// PreferencesPatch is a partial preferences update. Nil fields keep their
// current value.
type PreferencesPatch struct {
	Style     *text.Style `json:"style,omitempty"`
	Depth     *int        `json:"depth,omitempty"`
	Formality *int        `json:"formality,omitempty"`
}

// Apply overlays the fields present in pp onto prefs.
func (pp PreferencesPatch) Apply(prefs Preferences) Preferences {
	if pp.Style != nil {
		prefs.Style = *pp.Style
	}
	if pp.Depth != nil {
		prefs.Depth = *pp.Depth
	}
	if pp.Formality != nil {
		prefs.Formality = *pp.Formality
	}
	return prefs
}

// ConversationContext is the short-term state of one chat turn.
type ConversationContext struct {
	Topics  []string     `json:"topics"`
	Emotion text.Emotion `json:"emotion,omitempty"`
	Style   text.Style   `json:"style"`
	At      time.Time    `json:"at"`
}

// DefaultPreferences is what a new profile starts with.
func DefaultPreferences() Preferences {
	return Preferences{Style: text.StyleCasual, Depth: 2, Formality: 3}
}

// NewProfile returns an empty, undeployed profile.
func NewProfile(id, userRef string, now time.Time) Profile {
	return Profile{
		ID:          id,
		UserRef:     userRef,
		Preferences: DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	cp := p
	cp.Traits = append([]Trait(nil), p.Traits...)
	cp.Knowledge = append([]KnowledgeEntry(nil), p.Knowledge...)
	if p.Memories != nil {
		cp.Memories = make([]Memory, len(p.Memories))
		for i, m := range p.Memories {
			m.Emotions = append([]string(nil), m.Emotions...)
			cp.Memories[i] = m
		}
	}
	if p.History != nil {
		cp.History = make([]ConversationContext, len(p.History))
		for i, c := range p.History {
			cp.History[i] = c.clone()
		}
	}
	return cp
}

func (c ConversationContext) clone() ConversationContext {
	c.Topics = append([]string(nil), c.Topics...)
	return c
}

// answered reports whether p holds a knowledge entry for questionID.
func (p Profile) answered(questionID int) bool {
	return p.knowledgeIndex(questionID) >= 0
}

func (p Profile) knowledgeIndex(questionID int) int {
	for i, k := range p.Knowledge {
		if k.QuestionID == questionID {
			return i
		}
	}
	return -1
}

func (p Profile) memoryIndex(id int64) int {
	for i, m := range p.Memories {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// MaxMemoryID returns the largest memory ID held by p, or 0.
func (p Profile) MaxMemoryID() int64 {
	var max int64
	for _, m := range p.Memories {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}
