package inference

import (
	"context"
	"fmt"
	"strings"
)

// Engine computes session rounds against a knowledge base. It holds no
// per-session state and is safe for concurrent use across sessions.
type Engine struct {
	kb KnowledgeBase
}

func NewEngine(kb KnowledgeBase) *Engine {
	return &Engine{kb: kb}
}

// Initialize produces round 0 for the matched candidate diseases.
func (e *Engine) Initialize(ctx context.Context, complaint string, diseases []string) (State, error) {
	diseases = uniqueNames(diseases)
	if len(diseases) == 0 {
		return State{}, ErrNoCandidateDiseases
	}

	relation, err := e.kb.SymptomsOf(ctx, diseases)
	if err != nil {
		return State{}, fmt.Errorf("%w: symptoms: %v", ErrKnowledgeBaseUnavailable, err)
	}
	inc := BuildIncidence(diseases, relation, nil)

	diseasePriors, err := e.kb.DiseasePriors(ctx, diseases)
	if err != nil {
		return State{}, fmt.Errorf("%w: disease priors: %v", ErrKnowledgeBaseUnavailable, err)
	}
	symptomPriors, err := e.kb.SymptomPriors(ctx, inc.Symptoms)
	if err != nil {
		return State{}, fmt.Errorf("%w: symptom priors: %v", ErrKnowledgeBaseUnavailable, err)
	}

	prior := PriorDistribution(diseases, diseasePriors)
	return State{
		Diseases: diseases,
		Rounds: []Round{{
			Utterance: complaint,
			Posterior: prior,
			Gains:     EstimateGains(prior, inc, symptomPriors),
		}},
		Answered: Answers{},
	}, nil
}

// Advance applies the answer for symptom and returns the state with one more
// round. On error the returned state is the zero value and state is untouched.
func (e *Engine) Advance(ctx context.Context, state State, symptom string, present bool, utterance string) (State, error) {
	if state.Terminal {
		return State{}, ErrSessionTerminal
	}
	if len(state.Rounds) == 0 {
		return State{}, fmt.Errorf("%w: session has no initial round", ErrInvalidAdvance)
	}
	last := state.Last()
	if !last.Gains.Has(symptom) || state.Answered.Has(symptom) {
		return State{}, fmt.Errorf("%w: %q is not an open symptom", ErrInvalidAdvance, symptom)
	}
	if !sameNames(last.Posterior.Names, state.Diseases) {
		return State{}, ErrDiseaseSetMismatch
	}

	relation, err := e.kb.SymptomsOf(ctx, state.Diseases)
	if err != nil {
		return State{}, fmt.Errorf("%w: symptoms: %v", ErrKnowledgeBaseUnavailable, err)
	}
	current := BuildIncidence(state.Diseases, relation, state.Answered.Symptoms())
	column, ok := current.RowNormalized().Column(symptom)
	if !ok {
		return State{}, fmt.Errorf("%w: %q no longer linked to any candidate disease", ErrInvalidAdvance, symptom)
	}
	symptomPriors, err := e.kb.SymptomPriors(ctx, current.Symptoms)
	if err != nil {
		return State{}, fmt.Errorf("%w: symptom priors: %v", ErrKnowledgeBaseUnavailable, err)
	}

	posterior := UpdatePosterior(last.Posterior, column, symptomPriors[symptom], present)

	answered := make(Answers, len(state.Answered), len(state.Answered)+1)
	copy(answered, state.Answered)
	answered = append(answered, Answer{Symptom: symptom, Present: present})

	remaining := BuildIncidence(state.Diseases, relation, answered.Symptoms())

	rounds := make([]Round, len(state.Rounds), len(state.Rounds)+1)
	copy(rounds, state.Rounds)
	rounds = append(rounds, Round{
		Utterance: utterance,
		Posterior: posterior,
		Gains:     EstimateGains(posterior, remaining, symptomPriors),
	})

	return State{
		Diseases: state.Diseases,
		Rounds:   rounds,
		Answered: answered,
	}, nil
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
