// Package inference implements the adaptive questioning engine: it keeps a
// probability distribution over candidate diseases, scores every unasked
// symptom by expected entropy reduction, updates the distribution from a
// yes/no answer and decides when to stop asking.
//
// Everything in this package is synchronous and deterministic. The only
// outside calls are the KnowledgeBase queries made by Engine.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidAdvance           = errors.New("invalid advance")
	ErrSessionTerminal          = errors.New("session already terminated")
	ErrKnowledgeBaseUnavailable = errors.New("knowledge base unavailable")
	ErrNoCandidateDiseases      = errors.New("no candidate diseases")
	ErrDiseaseSetMismatch       = errors.New("posterior does not match disease set")
)

// KnowledgeBase is the read-only query surface of the disease knowledge base.
// A name missing from a returned prior map means "no prior known"; it must
// not be reported as zero.
type KnowledgeBase interface {
	SymptomsOf(ctx context.Context, diseases []string) (map[string][]string, error)
	DiseasePriors(ctx context.Context, diseases []string) (map[string]float64, error)
	SymptomPriors(ctx context.Context, symptoms []string) (map[string]float64, error)
}

// Distribution is an ordered disease -> probability mapping.
type Distribution struct {
	Names  []string
	Values []float64
}

func (d Distribution) Len() int { return len(d.Names) }

func (d Distribution) Get(name string) (float64, bool) {
	for i, n := range d.Names {
		if n == name {
			return d.Values[i], true
		}
	}
	return 0, false
}

func (d Distribution) MarshalJSON() ([]byte, error) {
	return encodeOrdered(d.Names, d.Values)
}

func (d *Distribution) UnmarshalJSON(data []byte) error {
	names, values, err := decodeOrdered(data)
	if err != nil {
		return err
	}
	d.Names, d.Values = names, values
	return nil
}

// GainMap is an ordered symptom -> information gain mapping. Its order is the
// incidence matrix column order and is the tie-break order for selection.
type GainMap struct {
	Names  []string
	Values []float64
}

func (g GainMap) Len() int { return len(g.Names) }

func (g GainMap) Get(name string) (float64, bool) {
	for i, n := range g.Names {
		if n == name {
			return g.Values[i], true
		}
	}
	return 0, false
}

func (g GainMap) Has(name string) bool {
	_, ok := g.Get(name)
	return ok
}

// Max returns the largest gain, or 0 for an empty map.
func (g GainMap) Max() float64 {
	if len(g.Values) == 0 {
		return 0
	}
	best := g.Values[0]
	for _, v := range g.Values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func (g GainMap) MarshalJSON() ([]byte, error) {
	return encodeOrdered(g.Names, g.Values)
}

func (g *GainMap) UnmarshalJSON(data []byte) error {
	names, values, err := decodeOrdered(data)
	if err != nil {
		return err
	}
	g.Names, g.Values = names, values
	return nil
}

type Answer struct {
	Symptom string `json:"symptom"`
	Present bool   `json:"present"`
}

// Answers is the append-only record of answered symptoms, in answer order.
type Answers []Answer

func (a Answers) Has(symptom string) bool {
	for _, ans := range a {
		if ans.Symptom == symptom {
			return true
		}
	}
	return false
}

func (a Answers) Symptoms() []string {
	out := make([]string, len(a))
	for i, ans := range a {
		out[i] = ans.Symptom
	}
	return out
}

// Round is one entry of the session history.
type Round struct {
	Utterance string       `json:"utterance"`
	Posterior Distribution `json:"posterior"`
	Gains     GainMap      `json:"gains"`
}

// State is everything the engine needs to compute the next round. Engine
// methods return a new State and never modify the one passed in.
type State struct {
	Diseases []string `json:"diseases"`
	Rounds   []Round  `json:"rounds"`
	Answered Answers  `json:"answered"`
	Terminal bool     `json:"terminal"`
}

// Last returns the most recent round. It panics on an empty history.
func (s State) Last() Round {
	return s.Rounds[len(s.Rounds)-1]
}

// Symptoms is the current SymptomSet, i.e. the columns of the last round.
func (s State) Symptoms() []string {
	if len(s.Rounds) == 0 {
		return nil
	}
	return append([]string(nil), s.Last().Gains.Names...)
}

func (s State) GainHistory() []GainMap {
	out := make([]GainMap, len(s.Rounds))
	for i, r := range s.Rounds {
		out[i] = r.Gains
	}
	return out
}

// Terminate returns a copy of the state marked terminal.
func (s State) Terminate() State {
	s.Terminal = true
	return s
}

// entry is the stored form of one ordered map item. Ordered maps are
// persisted as arrays of entries because JSON object key order is not kept
// by every store (postgres jsonb sorts keys).
type entry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func encodeOrdered(names []string, values []float64) ([]byte, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("ordered map: %d names for %d values", len(names), len(values))
	}
	entries := make([]entry, len(names))
	for i, name := range names {
		v := values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		entries[i] = entry{Name: name, Value: v}
	}
	return json.Marshal(entries)
}

func decodeOrdered(data []byte) ([]string, []float64, error) {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("ordered map: %w", err)
	}
	if entries == nil {
		return nil, nil, nil
	}
	names := make([]string, len(entries))
	values := make([]float64, len(entries))
	for i, e := range entries {
		names[i], values[i] = e.Name, e.Value
	}
	return names, values, nil
}
