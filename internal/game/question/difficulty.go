// Package question defines quiz questions, difficulty tiers, and the
// providers that supply questions to the session engine.
package question

// Tier is a question difficulty level. Tiers are totally ordered from
// TierEasy up to TierHard.
type Tier string

// Known difficulty tiers, in ascending order.
const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// Tiers lists all difficulty tiers in ascending order.
var Tiers = []Tier{TierEasy, TierMedium, TierHard}

// ParseTier converts a raw string into a Tier.
//
// Postcondition: Returns (tier, true) for a known tier name, or ("", false) otherwise.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierEasy, TierMedium, TierHard:
		return Tier(s), true
	}
	return "", false
}

// Valid reports whether t is a known difficulty tier.
func (t Tier) Valid() bool {
	_, ok := ParseTier(string(t))
	return ok
}

// index returns the position of t in the tier order, or 0 for unknown tiers.
func (t Tier) index() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return 0
}

// Adjust returns the tier that follows current after an answer: one step up
// on a correct answer, one step down on an incorrect one. The result is
// clamped to the known tier range.
//
// Precondition: current should be a valid tier; unknown tiers are treated as TierEasy.
// Postcondition: The returned tier is always valid.
func Adjust(current Tier, correct bool) Tier {
	i := current.index()
	if correct && i < len(Tiers)-1 {
		i++
	} else if !correct && i > 0 {
		i--
	}
	return Tiers[i]
}
