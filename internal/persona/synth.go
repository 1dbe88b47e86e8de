package persona

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/twin/internal/text"
)

const (
	closingUpbeat     = "That sounds wonderful, tell me more!"
	closingEmpathetic = "I'm sorry you're going through that. Do you want to talk about it?"
	closingCurious    = "What else is on your mind?"

	elaborateHappy   = "Holding on to what makes you happy is worth the effort."
	elaborateProblem = "Every problem gets smaller once it is broken into steps."
	elaborateDefault = "There is always more to explore here."

	formalSalutation = "Greetings."
	formalClosing    = "Kind regards."
	casualGreeting   = "hey!"
)

// compose builds the fallback reply from traits, the heaviest memory and the
// prior topic. The quoted memory counts as accessed.
func compose(p *Profile, emotion text.Emotion, prior *ConversationContext, now time.Time) string {
	var parts []string

	if len(p.Traits) > 0 {
		parts = append(parts, fmt.Sprintf("I know you value %s.", strings.Join(traitNames(p.Traits), ", ")))
	}

	if i := topMemory(p.Memories); i >= 0 {
		parts = append(parts, fmt.Sprintf("I remember you once said: \"%s\".", p.Memories[i].Content))
		touchMemory(&p.Memories[i], now)
	}

	if prior != nil && len(prior.Topics) > 0 {
		parts = append(parts, fmt.Sprintf("We were just talking about %s.", prior.Topics[0]))
	}

	parts = append(parts, closingFor(emotion))
	return strings.Join(parts, " ")
}

func closingFor(e text.Emotion) string {
	switch e {
	case text.EmotionHappy, text.EmotionExcited:
		return closingUpbeat
	case text.EmotionSad, text.EmotionAngry:
		return closingEmpathetic
	}
	return closingCurious
}

// format applies depth, then formality, then the emotion emoji.
func format(s string, prefs Preferences, emotion text.Emotion) string {
	switch clampDepth(prefs.Depth) {
	case 1:
		s = firstSentence(s)
	case 3:
		s = s + " " + elaborationFor(s)
	}

	switch f := clampFormality(prefs.Formality); {
	case f >= 4:
		s = formalSalutation + " " + s + " " + formalClosing
	case f <= 2:
		s = casualGreeting + " " + strings.ToLower(s)
	}

	if emoji := emotion.Emoji(); emoji != "" {
		s = emoji + " " + s
	}
	return s
}

func elaborationFor(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "happy"):
		return elaborateHappy
	case strings.Contains(lower, "problem"):
		return elaborateProblem
	}
	return elaborateDefault
}

// firstSentence cuts s after the first '.', '!' or '?' that is followed by
// whitespace or ends the string.
func firstSentence(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 == len(s) || s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
				return s[:i+1]
			}
		}
	}
	return s
}

func clampDepth(v int) int {
	if v < 1 {
		return 1
	}
	if v > 3 {
		return 3
	}
	return v
}

func clampFormality(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
