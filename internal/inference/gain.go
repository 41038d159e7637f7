package inference

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Bounds for a symptom's marginal probability while exploring hypothetical
// answers. Wider than the [Epsilon, 1-Epsilon] band used for a committed
// update.
const (
	MinExploreRho = 0.01
	MaxExploreRho = 0.99
)

var errEmptyColumn = errors.New("symptom has no incidence")

// Entropy is -sum p*log(p+Epsilon).
func Entropy(p []float64) float64 {
	var h float64
	for _, x := range p {
		h -= x * math.Log(x+Epsilon)
	}
	return h
}

// EstimateGains scores every symptom column of inc against the distribution
// p. priors holds the symptom marginals; a missing prior counts as 0 and is
// clamped like any other. A symptom whose score cannot be computed gets 0.
func EstimateGains(p Distribution, inc Incidence, priors map[string]float64) GainMap {
	pl := normalize(p.Values)
	h0 := Entropy(pl)
	rows := inc.RowNormalized()

	gains := GainMap{
		Names:  append([]string(nil), inc.Symptoms...),
		Values: make([]float64, len(inc.Symptoms)),
	}
	for j, s := range inc.Symptoms {
		hc, err := conditionalEntropy(pl, rows.columnAt(j), priors[s])
		if err != nil {
			continue
		}
		gains.Values[j] = clamp(math.Abs(h0-hc)/math.Max(h0, Epsilon), 0, 1)
	}
	return gains
}

// conditionalEntropy is the expected entropy of p after asking about a
// symptom with incidence pkl and marginal rho.
func conditionalEntropy(p, pkl []float64, rho float64) (float64, error) {
	if len(p) != len(pkl) {
		return 0, fmt.Errorf("incidence has %d rows for %d diseases", len(pkl), len(p))
	}
	if len(p) == 0 || floats.Sum(pkl) <= 0 {
		return 0, errEmptyColumn
	}
	rho = clamp(rho, MinExploreRho, MaxExploreRho)

	logYes := make([]float64, len(p))
	logNo := make([]float64, len(p))
	for i := range p {
		logP := math.Log(p[i] + Epsilon)
		logYes[i] = math.Log(pkl[i]+Epsilon) + logP - math.Log(rho)
		logNo[i] = math.Log(1-pkl[i]+Epsilon) + logP - math.Log(1-rho)
	}

	hYes := Entropy(softmax(logYes))
	hNo := Entropy(softmax(logNo))
	hc := rho*hYes + (1-rho)*hNo
	if math.IsNaN(hc) || math.IsInf(hc, 0) {
		return 0, fmt.Errorf("conditional entropy not finite: %v", hc)
	}
	return hc, nil
}

func softmax(logs []float64) []float64 {
	top := floats.Max(logs)
	out := make([]float64, len(logs))
	for i, l := range logs {
		out[i] = math.Exp(l - top)
	}
	return normalize(out)
}
