package persona

import (
	"time"

	"github.com/kalambet/twin/internal/text"
)

const (
	// MaxHistory bounds Profile.History.
	MaxHistory = 5
	// MaxTopics bounds ConversationContext.Topics.
	MaxTopics = 3
)

// activeContext returns the context a turn builds on, or nil when the caller
// asked for a reset or nothing has been tracked yet.
func activeContext(history []ConversationContext, reset bool) *ConversationContext {
	if reset || len(history) == 0 {
		return nil
	}
	return &history[0]
}

// trackTurn derives the next context from the active one and prepends it to
// history, dropping the oldest beyond MaxHistory.
func trackTurn(history []ConversationContext, message string, emotion text.Emotion, style text.Style, reset bool, now time.Time) []ConversationContext {
	var next ConversationContext
	if prior := activeContext(history, reset); prior != nil {
		next = prior.clone()
	}

	if words := text.Words(message); len(words) > 0 {
		next.Topics = append([]string{words[0]}, next.Topics...)
		if len(next.Topics) > MaxTopics {
			next.Topics = next.Topics[:MaxTopics]
		}
	}
	next.Emotion = emotion
	next.Style = style
	next.At = now

	out := make([]ConversationContext, 0, MaxHistory)
	out = append(out, next)
	for _, c := range history {
		if len(out) == MaxHistory {
			break
		}
		out = append(out, c)
	}
	return out
}
