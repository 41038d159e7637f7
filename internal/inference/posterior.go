package inference

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// Epsilon stabilizes every logarithm and divisor.
	Epsilon = 1e-10

	// MinProbability is the floor applied to every disease after an update,
	// so that no disease is ever ruled out by a single answer.
	MinProbability = 0.001
)

// UpdatePosterior applies one naive-Bayes step for a single answered symptom.
// column holds the row-normalized incidence of the symptom per disease, in
// the order of p.Names. rho is the symptom's marginal probability.
func UpdatePosterior(p Distribution, column []float64, rho float64, observed bool) Distribution {
	rho = clamp(rho, Epsilon, 1-Epsilon)

	next := make([]float64, len(p.Values))
	for i, pl := range p.Values {
		var pkl float64
		if i < len(column) {
			pkl = column[i]
		}
		if observed {
			next[i] = pkl * pl / rho
		} else {
			next[i] = (1 - pkl) * pl / (1 - rho)
		}
	}

	return Distribution{
		Names:  append([]string(nil), p.Names...),
		Values: floorNormalize(next, MinProbability),
	}
}

// PriorDistribution builds the round-0 distribution. If any disease lacks a
// prior the whole distribution falls back to uniform, since known and
// invented priors are not on a comparable scale.
func PriorDistribution(diseases []string, priors map[string]float64) Distribution {
	values := make([]float64, len(diseases))
	uniform := false
	for i, d := range diseases {
		v, ok := priors[d]
		if !ok || math.IsNaN(v) {
			uniform = true
			break
		}
		values[i] = v
	}
	if uniform {
		for i := range values {
			values[i] = 1
		}
	}
	return Distribution{
		Names:  append([]string(nil), diseases...),
		Values: floorNormalize(values, MinProbability),
	}
}

// floorNormalize returns a distribution summing to 1 where every entry is at
// least floor. Entries that fall under the floor are pinned to it and the
// remaining mass is shared among the others in proportion.
func floorNormalize(v []float64, floor float64) []float64 {
	n := len(v)
	out := normalize(v)
	if n == 0 {
		return out
	}
	if float64(n)*floor >= 1 {
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out
	}

	pinned := make([]bool, n)
	for {
		changed := false
		for i, x := range out {
			if !pinned[i] && x < floor {
				pinned[i] = true
				changed = true
			}
		}
		if !changed {
			return out
		}

		var free float64
		count := 0
		for i := range out {
			if pinned[i] {
				out[i] = floor
				count++
			} else {
				free += out[i]
			}
		}
		if free <= 0 {
			return out
		}
		scale := (1 - float64(count)*floor) / free
		for i := range out {
			if !pinned[i] {
				out[i] *= scale
			}
		}
	}
}

// normalize scales a non-negative copy of v to sum to 1. NaN and negative
// entries count as 0, +Inf as 1. An all-zero vector becomes uniform.
func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		switch {
		case math.IsNaN(x) || x < 0:
			out[i] = 0
		case math.IsInf(x, 1):
			out[i] = 1
		default:
			out[i] = x
		}
	}
	if len(out) == 0 {
		return out
	}
	sum := floats.Sum(out)
	if sum <= 0 || math.IsInf(sum, 1) {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	floats.Scale(1/sum, out)
	return out
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}
