package text

import "strings"

// Style is a communication style.
type Style string

const (
	StyleCasual     Style = "casual"
	StyleFormal     Style = "formal"
	StyleTechnical  Style = "technical"
	StyleHumorous   Style = "humorous"
	StyleEmpathetic Style = "empathetic"
)

// stylePrecedence orders styles for tie breaking, strongest first.
var stylePrecedence = []Style{StyleTechnical, StyleHumorous, StyleEmpathetic, StyleFormal, StyleCasual}

// ParseStyle returns the Style named by s and whether it is known.
func ParseStyle(s string) (Style, bool) {
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range stylePrecedence {
		if st == known {
			return st, true
		}
	}
	return "", false
}

var styleKeywords = map[Style]map[string]struct{}{
	StyleCasual: keywordSet("hey", "hello", "hiya", "yeah", "cool", "gonna", "wanna", "dude", "awesome", "chill", "stuff", "kinda", "sup"),
	StyleFormal: keywordSet("regards", "sincerely", "dear", "furthermore", "therefore", "respectfully", "kindly",
		"appreciate", "accordingly", "however", "consequently", "moreover"),
	StyleTechnical: keywordSet("algorithm", "system", "data", "code", "software", "function", "database", "network",
		"server", "api", "implementation", "process", "architecture", "performance", "debug", "compile", "protocol"),
	StyleHumorous: keywordSet("lol", "haha", "funny", "joke", "hilarious", "lmao", "kidding", "silly", "laugh", "pun"),
	StyleEmpathetic: keywordSet("feel", "understand", "sorry", "care", "support", "empathy", "together", "listen",
		"compassion", "kindness", "comfort", "hug"),
}

func keywordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return normalizeSet(m)
}

// StyleVote is the outcome of DetectStyle. Hits is the keyword count of the
// winning style; zero means no style keyword was seen and Style is casual.
type StyleVote struct {
	Style Style
	Hits  int
}

// DetectStyle counts keyword hits per style over the tokens of s and returns
// the style with the most hits. Ties go to the earlier style in the order
// technical, humorous, empathetic, formal, casual.
func DetectStyle(s string) StyleVote {
	counts := make(map[Style]int, len(styleKeywords))
	for _, tok := range Words(s) {
		for st, kw := range styleKeywords {
			if _, ok := kw[tok]; ok {
				counts[st]++
			}
		}
	}

	best := StyleVote{Style: StyleCasual}
	for _, st := range stylePrecedence {
		if counts[st] > best.Hits {
			best = StyleVote{Style: st, Hits: counts[st]}
		}
	}
	return best
}
