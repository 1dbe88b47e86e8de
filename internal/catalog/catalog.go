// Package catalog holds the process-wide, append-only set of training
// questions. Built-in questions ship as an embedded YAML file; custom
// questions are appended at runtime with fresh IDs.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var builtinYAML []byte

// OpenEnded is the single option given to questions without explicit choices.
const OpenEnded = "open"

const (
	MinImportance = 1
	MaxImportance = 5
)

// ErrEmptyText is returned by Append for a blank question.
var ErrEmptyText = errors.New("question text is required")

// Question is an immutable catalog entry.
type Question struct {
	ID         int      `json:"id" yaml:"-"`
	Text       string   `json:"text" yaml:"text"`
	Category   string   `json:"category" yaml:"category"`
	Importance int      `json:"importance" yaml:"importance"`
	Triggers   []string `json:"triggers" yaml:"triggers"`
	Options    []string `json:"options" yaml:"options"`
}

// Persister stores custom questions. Implemented by storage.Store.
type Persister interface {
	SaveQuestion(q Question) error
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	questions []Question
	byID      map[int]int // id -> index into questions
	nextID    int
	persist   Persister
}

// New returns a catalog seeded with the built-in questions. persist may be
// nil, in which case appended questions live only in memory.
func New(persist Persister) (*Catalog, error) {
	var seed []Question
	if err := yaml.Unmarshal(builtinYAML, &seed); err != nil {
		return nil, fmt.Errorf("parsing built-in questions: %w", err)
	}
	c := &Catalog{
		byID:    make(map[int]int, len(seed)),
		nextID:  1,
		persist: persist,
	}
	for _, q := range seed {
		q.ID = c.nextID
		c.insert(normalize(q))
	}
	return c, nil
}

// Restore adds previously persisted custom questions, keeping their IDs.
// Questions whose ID is already taken are skipped.
func (c *Catalog) Restore(qs []Question) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
	for _, q := range qs {
		if _, taken := c.byID[q.ID]; taken || q.ID <= 0 {
			continue
		}
		c.insert(normalize(q))
	}
}

// insert must be called with mu held (or before the catalog is shared).
func (c *Catalog) insert(q Question) {
	c.byID[q.ID] = len(c.questions)
	c.questions = append(c.questions, q)
	if q.ID >= c.nextID {
		c.nextID = q.ID + 1
	}
}

// List returns a copy of all questions in ID order.
func (c *Catalog) List() []Question {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Question, len(c.questions))
	for i, q := range c.questions {
		out[i] = clone(q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get looks up a question by ID.
func (c *Catalog) Get(id int) (Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return Question{}, false
	}
	return clone(c.questions[i]), true
}

// Append adds a custom question with the next free ID. Importance is clamped
// to 1..5 and an empty category becomes "custom".
func (c *Catalog) Append(text, category string, importance int, triggers []string) (Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Question{}, ErrEmptyText
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q := normalize(Question{
		ID:         c.nextID,
		Text:       text,
		Category:   category,
		Importance: importance,
		Triggers:   triggers,
	})
	if q.Category == "" {
		q.Category = "custom"
	}
	if c.persist != nil {
		if err := c.persist.SaveQuestion(q); err != nil {
			return Question{}, fmt.Errorf("saving question %d: %w", q.ID, err)
		}
	}
	c.insert(q)
	return clone(q), nil
}

// ClampImportance bounds v to the 1..5 importance range.
func ClampImportance(v int) int {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

func normalize(q Question) Question {
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	q.Importance = ClampImportance(q.Importance)
	triggers := make([]string, 0, len(q.Triggers))
	for _, t := range q.Triggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			triggers = append(triggers, t)
		}
	}
	q.Triggers = triggers
	if len(q.Options) == 0 {
		q.Options = []string{OpenEnded}
	}
	return q
}

func clone(q Question) Question {
	q.Triggers = append([]string(nil), q.Triggers...)
	q.Options = append([]string(nil), q.Options...)
	return q
}
