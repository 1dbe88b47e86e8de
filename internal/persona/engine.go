// Package persona is the personality modeling and response engine. It scores
// chat messages against a profile's knowledge base and synthesizes replies
// from traits, memories and conversation context.
//
// Every operation takes a Profile by value and returns the updated Profile;
// nothing is persisted here. Callers serialize writes per profile.
package persona

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/twin/internal/catalog"
	"github.com/kalambet/twin/internal/text"
)

// DeployMinAnswers is the knowledge base size required before Deploy succeeds.
const DeployMinAnswers = 10

// DefaultStyleBlend is the chance that a differing detected style replaces
// the stored preference on a single answer.
const DefaultStyleBlend = 0.25

// QuestionSource provides question lookups. Implemented by catalog.Catalog.
type QuestionSource interface {
	List() []catalog.Question
	Get(id int) (catalog.Question, bool)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Engine is safe for concurrent use across profiles.
type Engine struct {
	questions QuestionSource
	clock     Clock
	blend     float64
	logger    *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	memorySeq atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRandSource injects the source behind style drift decisions.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.rng = rand.New(src) }
}

// WithStyleBlend sets the style drift probability, clamped to [0, 1].
func WithStyleBlend(b float64) Option {
	return func(e *Engine) { e.blend = clamp(b, 0, 1) }
}

// WithMemorySequence makes new memory IDs start after last.
func WithMemorySequence(last int64) Option {
	return func(e *Engine) { e.memorySeq.Store(last) }
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over the given question source. Without
// WithRandSource, style drift uses a PCG seeded from the wall clock and is
// not reproducible between runs.
func NewEngine(questions QuestionSource, opts ...Option) *Engine {
	e := &Engine{
		questions: questions,
		clock:     realClock{},
		blend:     DefaultStyleBlend,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return e
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

func (e *Engine) nextMemoryID() int64 {
	return e.memorySeq.Add(1)
}

func (e *Engine) coinFlip(p float64) bool {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64() < p
}

// NextQuestion picks the most important unanswered question. When context
// mentions any question's trigger words, selection is limited to those
// questions; otherwise it falls back to importance alone. Ties go to the
// lowest ID.
func (e *Engine) NextQuestion(p Profile, context string) (catalog.Question, error) {
	var open []catalog.Question
	for _, q := range e.questions.List() {
		if !p.answered(q.ID) {
			open = append(open, q)
		}
	}
	if len(open) == 0 {
		return catalog.Question{}, fmt.Errorf("%w: no unanswered questions left", ErrExhausted)
	}

	if ctxWords := text.Words(context); len(ctxWords) > 0 {
		if triggered := filterTriggered(open, ctxWords); len(triggered) > 0 {
			open = triggered
		}
	}

	best := open[0]
	for _, q := range open[1:] {
		if q.Importance > best.Importance || (q.Importance == best.Importance && q.ID < best.ID) {
			best = q
		}
	}
	return best, nil
}

func filterTriggered(qs []catalog.Question, words []string) []catalog.Question {
	have := make(map[string]struct{}, len(words))
	for _, w := range words {
		have[w] = struct{}{}
	}
	var out []catalog.Question
	for _, q := range qs {
		for _, trig := range q.Triggers {
			norm, ok := text.Normalize(trig)
			if !ok {
				continue
			}
			if _, hit := have[norm]; hit {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

// SubmitAnswer records an answer. Traits decay on every submission and only
// personality answers reinforce them. Significant answers become memories,
// and the answer's style may shift the stored style preference.
func (e *Engine) SubmitAnswer(p Profile, questionID int, answer string, emotion text.Emotion) (Profile, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Profile{}, fmt.Errorf("%w: answer is empty", ErrInvalidInput)
	}

	now := e.clock.Now()
	out := p.Clone()

	q, known := e.questions.Get(questionID)
	importance := unknownImportance
	if known {
		importance = q.Importance
	}

	out.Traits = decayTraits(out.Traits, now)
	if known && q.Category == personalityCategory {
		out.Traits = reinforceTraits(out.Traits, answer, now)
	}
	out.Traits = rankTraits(out.Traits)

	if i := out.knowledgeIndex(questionID); i >= 0 {
		out.Knowledge[i].Answer = answer
	} else {
		out.Knowledge = append(out.Knowledge, KnowledgeEntry{
			QuestionID: questionID,
			Answer:     answer,
			Confidence: maxConfidence,
			LastUsed:   now,
			CreatedAt:  now,
		})
	}

	if isSignificant(answer, importance) {
		out.Memories = append(out.Memories, newMemory(e.nextMemoryID(), answer, importance, emotion, now))
	}

	if vote := text.DetectStyle(answer); vote.Hits > 0 && vote.Style != out.Preferences.Style {
		if e.coinFlip(e.blend) {
			e.logger.Debug("style preference drifted", "profile_id", out.ID, "from", out.Preferences.Style, "to", vote.Style)
			out.Preferences.Style = vote.Style
		}
	}

	if !out.Deployed {
		out.TrainingProgress = trainingProgress(len(out.Knowledge))
	}
	out.UpdatedAt = now
	return out, nil
}

func trainingProgress(answers int) int {
	pct := answers * 100 / DeployMinAnswers
	if pct > 100 {
		return 100
	}
	return pct
}

// Reply is the outcome of a chat turn.
type Reply struct {
	Text       string       `json:"text"`
	Matched    bool         `json:"matched"`
	Score      float64      `json:"score"`
	QuestionID int          `json:"question_id,omitempty"`
	Emotion    text.Emotion `json:"emotion,omitempty"`
}

// Chat answers message as the profile's twin. When the best knowledge entry
// clears MatchThreshold its answer is replayed; otherwise a reply is
// composed from traits, memories and the prior topic. Given the same
// profile, message and clock reading the result is always the same.
func (e *Engine) Chat(p Profile, message string, reset bool) (Reply, Profile) {
	now := e.clock.Now()
	out := p.Clone()

	emotion := text.DetectEmotion(message)
	prior := activeContext(out.History, reset)
	var topics []string
	if prior != nil {
		topics = prior.Topics
	}

	match := e.bestMatch(out.Knowledge, text.Tokenize(message), topics, now)
	reply := Reply{Score: match.Score, Emotion: emotion}

	var body string
	if match.Accepted() {
		k := &out.Knowledge[match.Index]
		body = k.Answer
		k.UsageCount++
		k.LastUsed = now
		reply.Matched = true
		reply.QuestionID = k.QuestionID
	} else {
		body = compose(&out, emotion, prior, now)
	}
	reply.Text = format(body, out.Preferences, emotion)

	out.History = trackTurn(out.History, message, emotion, out.Preferences.Style, reset, now)
	out.UpdatedAt = now

	e.logger.Debug("chat turn",
		"profile_id", out.ID,
		"matched", reply.Matched,
		"score", match.Score,
		"emotion", emotion,
	)
	return reply, out
}

// Report is the diagnostic output of Analyze.
type Report struct {
	Traits    []Trait      `json:"traits"`
	Emotion   text.Emotion `json:"emotion"`
	Style     text.Style   `json:"style"`
	StyleHits int          `json:"style_hits"`
	Tokens    []string     `json:"tokens"`
}

// Analyze classifies s against the profile without changing it.
func (e *Engine) Analyze(p Profile, s string) Report {
	vote := text.DetectStyle(s)
	tokens := text.Tokenize(s)
	if tokens == nil {
		tokens = []string{}
	}
	traits := append([]Trait{}, p.Traits...)
	return Report{
		Traits:    traits,
		Emotion:   text.DetectEmotion(s),
		Style:     vote.Style,
		StyleHits: vote.Hits,
		Tokens:    tokens,
	}
}

// Deploy opens the profile to chats from other users. It requires at least
// DeployMinAnswers knowledge entries.
func (e *Engine) Deploy(p Profile) (Profile, error) {
	if n := len(p.Knowledge); n < DeployMinAnswers {
		return Profile{}, fmt.Errorf("%w (%d of %d)", ErrInsufficientTraining, n, DeployMinAnswers)
	}
	out := p.Clone()
	out.Deployed = true
	out.TrainingProgress = 100
	out.UpdatedAt = e.clock.Now()
	return out, nil
}

// Refresh runs the login decay pass over memories and traits.
func (e *Engine) Refresh(p Profile) Profile {
	now := e.clock.Now()
	out := p.Clone()
	before := len(out.Memories)
	out.Memories = decayMemories(out.Memories, now)
	out.Traits = rankTraits(decayTraits(out.Traits, now))
	out.UpdatedAt = now
	if dropped := before - len(out.Memories); dropped > 0 {
		e.logger.Debug("memories faded", "profile_id", out.ID, "count", dropped)
	}
	return out
}

// SetPreferences replaces the formatting preferences, clamping depth to 1..3
// and formality to 1..5. An unknown style keeps the current one.
func (e *Engine) SetPreferences(p Profile, prefs Preferences) Profile {
	out := p.Clone()
	if st, ok := text.ParseStyle(string(prefs.Style)); ok {
		out.Preferences.Style = st
	}
	out.Preferences.Depth = clampDepth(prefs.Depth)
	out.Preferences.Formality = clampFormality(prefs.Formality)
	out.UpdatedAt = e.clock.Now()
	return out
}
