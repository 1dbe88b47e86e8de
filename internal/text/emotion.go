package text

import "strings"

// Emotion is a coarse emotion tag. The zero value means no signal was found.
type Emotion string

const (
	EmotionNone    Emotion = ""
	EmotionHappy   Emotion = "happy"
	EmotionExcited Emotion = "excited"
	EmotionSad     Emotion = "sad"
	EmotionAngry   Emotion = "angry"
	EmotionNeutral Emotion = "neutral"
)

// ParseEmotion maps a caller supplied tag onto a known Emotion. Unknown tags
// yield EmotionNone.
func ParseEmotion(s string) Emotion {
	switch e := Emotion(strings.ToLower(strings.TrimSpace(s))); e {
	case EmotionHappy, EmotionExcited, EmotionSad, EmotionAngry, EmotionNeutral:
		return e
	}
	return EmotionNone
}

// Emoji returns the display emoji for e, or "" when e has none.
func (e Emotion) Emoji() string {
	switch e {
	case EmotionHappy:
		return "😊"
	case EmotionExcited:
		return "🤩"
	case EmotionSad:
		return "😢"
	case EmotionAngry:
		return "😠"
	}
	return ""
}

// emojiTable is scanned in order; the first emoji present in the text wins.
var emojiTable = []struct {
	emoji   string
	emotion Emotion
}{
	{"😊", EmotionHappy},
	{"😀", EmotionHappy},
	{"😄", EmotionHappy},
	{"🙂", EmotionHappy},
	{"❤️", EmotionHappy},
	{"😂", EmotionHappy},
	{"🤩", EmotionExcited},
	{"🎉", EmotionExcited},
	{"🔥", EmotionExcited},
	{"😢", EmotionSad},
	{"😭", EmotionSad},
	{"😞", EmotionSad},
	{"😠", EmotionAngry},
	{"😡", EmotionAngry},
	{"🤬", EmotionAngry},
	{"😐", EmotionNeutral},
}

var sentiment = normalizeSet(map[string]float64{
	"happy":      0.8,
	"love":       0.9,
	"great":      0.7,
	"good":       0.5,
	"wonderful":  0.9,
	"amazing":    0.9,
	"awesome":    0.8,
	"excited":    0.7,
	"fun":        0.6,
	"glad":       0.6,
	"enjoy":      0.5,
	"nice":       0.4,
	"calm":       0.3,
	"hope":       0.3,
	"thanks":     0.4,
	"sad":        -0.6,
	"hate":       -0.9,
	"angry":      -0.8,
	"terrible":   -0.8,
	"awful":      -0.8,
	"bad":        -0.5,
	"upset":      -0.6,
	"worried":    -0.4,
	"afraid":     -0.5,
	"lonely":     -0.6,
	"annoyed":    -0.5,
	"frustrated": -0.7,
	"tired":      -0.3,
	"hurt":       -0.6,
	"miserable":  -0.9,
})

// DetectEmotion classifies s. An emoji match takes precedence; otherwise the
// mean lexicon score of the tokens decides. Returns EmotionNone when neither
// yields a signal.
func DetectEmotion(s string) Emotion {
	for _, e := range emojiTable {
		if strings.Contains(s, e.emoji) {
			return e.emotion
		}
	}

	var sum float64
	var n int
	for _, tok := range Tokenize(s) {
		if v, ok := sentiment[tok]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return EmotionNone
	}
	return emotionForScore(sum / float64(n))
}

func emotionForScore(score float64) Emotion {
	switch {
	case score > 0.5:
		return EmotionHappy
	case score > 0.2:
		return EmotionExcited
	case score < -0.5:
		return EmotionAngry
	case score < -0.2:
		return EmotionSad
	}
	return EmotionNeutral
}
