package persona

import (
	"math"
	"sort"
	"time"

	"github.com/kalambet/twin/internal/text"
)

const (
	// MaxTraits bounds the trait set after ranking.
	MaxTraits = 15

	traitCeiling     = 10.0
	newTraitStrength = 5.0

	// traitDecayPerDay gives a half-life of roughly 69 days.
	traitDecayPerDay = 0.01

	personalityCategory = "personality"
)

// decayTraits shrinks every strength by exp(-k*days) since its last update
// and stamps the trait as updated at now.
func decayTraits(ts []Trait, now time.Time) []Trait {
	for i := range ts {
		days := daysBetween(ts[i].LastUpdated, now)
		ts[i].Strength = clamp(ts[i].Strength*math.Exp(-traitDecayPerDay*days), 0, traitCeiling)
		ts[i].LastUpdated = now
	}
	return ts
}

// reinforceTraits adds one point per word occurrence to matching traits and
// inserts unseen words at newTraitStrength.
func reinforceTraits(ts []Trait, answer string, now time.Time) []Trait {
	for _, w := range text.Words(answer) {
		i := traitIndex(ts, w)
		if i < 0 {
			ts = append(ts, Trait{Name: w, Strength: newTraitStrength, LastUpdated: now})
			continue
		}
		ts[i].Strength = clamp(ts[i].Strength+1, 0, traitCeiling)
		ts[i].LastUpdated = now
	}
	return ts
}

// rankTraits orders by strength descending (stable, so older traits win
// ties) and keeps the top MaxTraits.
func rankTraits(ts []Trait) []Trait {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Strength > ts[j].Strength })
	if len(ts) > MaxTraits {
		ts = ts[:MaxTraits]
	}
	return ts
}

func traitIndex(ts []Trait, name string) int {
	for i, t := range ts {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func traitNames(ts []Trait) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return names
}

func daysBetween(from, to time.Time) float64 {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return to.Sub(from).Hours() / 24
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
