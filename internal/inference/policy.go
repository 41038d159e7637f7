package inference

import (
	"math"
	"sort"
)

// DefaultRoundLimit caps a session when no limit is configured.
const DefaultRoundLimit = 10

// SelectNextSymptom returns the unanswered symptom with the highest gain.
// Ties go to the symptom that comes first in the map. ok is false when no
// candidate is left.
func SelectNextSymptom(gains GainMap, answered Answers) (symptom string, ok bool) {
	best := math.Inf(-1)
	for i, name := range gains.Names {
		if answered.Has(name) {
			continue
		}
		v := gains.Values[i]
		if math.IsNaN(v) {
			v = 0
		}
		if !ok || v > best {
			symptom, best, ok = name, v, true
		}
	}
	return symptom, ok
}

// StopPolicy decides when a session has asked enough.
type StopPolicy struct {
	Limit int
}

// ShouldStop stops at the round limit, or once the relative change of the
// best gain between the last two rounds is smaller than between the two
// rounds before.
func (p StopPolicy) ShouldStop(history []GainMap, rounds int) bool {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultRoundLimit
	}
	if rounds >= limit {
		return true
	}

	n := len(history)
	if n < 3 {
		return false
	}
	last := history[n-1].Max()
	mid := history[n-2].Max()
	pre := history[n-3].Max()

	diff2 := math.Abs(last-mid) / (mid + Epsilon)
	diff1 := math.Abs(mid-pre) / (pre + Epsilon)
	return diff1 > diff2
}

type Ranked struct {
	Disease     string  `json:"disease"`
	Probability float64 `json:"probability"`
}

// TopK returns the k most probable diseases, highest first. Equal
// probabilities keep the distribution's order.
func TopK(p Distribution, k int) []Ranked {
	ranked := make([]Ranked, len(p.Names))
	for i, name := range p.Names {
		ranked[i] = Ranked{Disease: name, Probability: p.Values[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	if k < 0 {
		k = 0
	}
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}
