package reconcile

import (
	"github.com/hbollon/go-edlib"

	"github.com/Diablofan/taiga/internal/library"
)

// DefaultMatchThreshold is the Jaro-Winkler similarity below which two
// titles are considered different series.
const DefaultMatchThreshold = 0.95

// Matcher decides whether an incoming payload and a stored item describe the
// same series, based on their titles and synonyms.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher. A threshold <= 0 selects the default.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Matcher{threshold: threshold}
}

// titleKeys returns the normalized comparison keys of an item: the title
// plus every synonym, empty keys dropped.
func titleKeys(item *library.Item) []string {
	keys := make([]string, 0, 1+len(item.Synonyms))
	if k := normalizeTitle(item.Title); k != "" {
		keys = append(keys, k)
	}
	for _, syn := range item.Synonyms {
		if k := normalizeTitle(syn); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Match returns the best candidate for the incoming item, or nil when no
// candidate clears the threshold. An exact normalized-title hit wins
// immediately; otherwise the highest Jaro-Winkler similarity across all
// title/synonym pairs decides.
func (m *Matcher) Match(incoming *library.Item, candidates []*library.Item) *library.Item {
	incomingKeys := titleKeys(incoming)
	if len(incomingKeys) == 0 {
		return nil
	}

	var best *library.Item
	var bestScore float64

	for _, cand := range candidates {
		for _, ck := range titleKeys(cand) {
			for _, ik := range incomingKeys {
				if ck == ik {
					return cand
				}
				score := float64(edlib.JaroWinklerSimilarity(ik, ck))
				if score > bestScore {
					bestScore = score
					best = cand
				}
			}
		}
	}

	if bestScore >= m.threshold {
		return best
	}
	return nil
}
