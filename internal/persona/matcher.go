package persona

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/kalambet/twin/internal/text"
)

// MatchThreshold is the fixed score a knowledge entry must exceed before its
// answer is replayed verbatim. It is tuned against the text tokenizer and is
// deliberately not configurable.
const MatchThreshold = 2.5

const (
	// overlapWeightPerRune turns a shared token's length into its weight.
	overlapWeightPerRune = 0.1

	recencyDecayPerDay = 0.1

	// contextTopics is how many recent topics feed context relevance.
	contextTopics = 3
)

// Match is the best scoring knowledge entry for a message.
type Match struct {
	Index int // into Profile.Knowledge, -1 when nothing scored
	Score float64
}

// Accepted reports whether the match clears MatchThreshold.
func (m Match) Accepted() bool {
	return m.Index >= 0 && m.Score > MatchThreshold
}

// bestMatch scores every entry and returns the first one with the highest
// score.
func (e *Engine) bestMatch(entries []KnowledgeEntry, msgTokens, topics []string, now time.Time) Match {
	best := Match{Index: -1}
	for i, k := range entries {
		score := e.scoreEntry(k, msgTokens, topics, now)
		if best.Index < 0 || score > best.Score {
			best = Match{Index: i, Score: score}
		}
	}
	return best
}

func (e *Engine) scoreEntry(k KnowledgeEntry, msgTokens, topics []string, now time.Time) float64 {
	importance := unknownImportance
	var questionTokens []string
	if q, ok := e.questions.Get(k.QuestionID); ok {
		importance = q.Importance
		questionTokens = text.Tokenize(q.Text)
	}
	answerTokens := text.Tokenize(k.Answer)

	lexical := overlap(msgTokens, questionTokens) + overlap(msgTokens, answerTokens)
	recency := math.Exp(-recencyDecayPerDay * daysBetween(k.LastUsed, now))
	return lexical * float64(importance) * recency * contextRelevance(answerTokens, topics)
}

// contextRelevance is the mean overlap between the answer and each of the
// most recent topics, or 1 when no topics are tracked.
func contextRelevance(answerTokens, topics []string) float64 {
	if len(topics) > contextTopics {
		topics = topics[:contextTopics]
	}
	if len(topics) == 0 {
		return 1.0
	}
	var sum float64
	for _, topic := range topics {
		sum += overlap(answerTokens, text.Tokenize(topic))
	}
	return sum / float64(len(topics))
}

// overlap sums a length-proportional weight over the distinct tokens of a
// that also appear in b.
func overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	var score float64
	for _, t := range a {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := inB[t]; ok {
			score += float64(utf8.RuneCountInString(t)) * overlapWeightPerRune
		}
	}
	return score
}
