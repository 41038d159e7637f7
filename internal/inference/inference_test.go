package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKB struct {
	relation      map[string][]string
	diseasePriors map[string]float64
	symptomPriors map[string]float64
	err           error
}

func (f *fakeKB) SymptomsOf(_ context.Context, diseases []string) (map[string][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string][]string{}
	for _, d := range diseases {
		if s, ok := f.relation[d]; ok {
			out[d] = s
		}
	}
	return out, nil
}

func (f *fakeKB) DiseasePriors(_ context.Context, diseases []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, d := range diseases {
		if p, ok := f.diseasePriors[d]; ok {
			out[d] = p
		}
	}
	return out, nil
}

func (f *fakeKB) SymptomPriors(_ context.Context, symptoms []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, s := range symptoms {
		if p, ok := f.symptomPriors[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func clinicKB() *fakeKB {
	return &fakeKB{
		relation: map[string][]string{
			"flu":       {"fever", "cough", "fatigue", "headache"},
			"cold":      {"cough", "sneezing", "sore throat"},
			"migraine":  {"headache", "nausea", "light sensitivity"},
			"gastritis": {"nausea", "abdominal pain"},
		},
		diseasePriors: map[string]float64{
			"flu": 0.3, "cold": 0.4, "migraine": 0.2, "gastritis": 0.1,
		},
		symptomPriors: map[string]float64{
			"fever": 0.2, "cough": 0.3, "fatigue": 0.25, "headache": 0.3,
			"sneezing": 0.2, "sore throat": 0.2, "nausea": 0.15,
			"light sensitivity": 0.05, "abdominal pain": 0.1,
		},
	}
}

func assertValidPosterior(t *testing.T, p Distribution) {
	t.Helper()
	var sum float64
	for i, v := range p.Values {
		assert.GreaterOrEqual(t, v, MinProbability, "disease %s below floor", p.Names[i])
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestBuildIncidence_OrderAndExclusion(t *testing.T) {
	relation := map[string][]string{
		"D1": {"S1", "S2"},
		"D2": {"S2", "S3", "S2"},
		"D3": {},
	}
	inc := BuildIncidence([]string{"D1", "D2", "D3"}, relation, []string{"S2", "S9"})

	assert.Equal(t, []string{"D1", "D2", "D3"}, inc.Diseases)
	assert.Equal(t, []string{"S1", "S3"}, inc.Symptoms)
	assert.Equal(t, 1.0, inc.At(0, 0))
	assert.Equal(t, 0.0, inc.At(0, 1))
	assert.Equal(t, 1.0, inc.At(1, 1))
	assert.Equal(t, 0.0, inc.At(2, 0))
	assert.Equal(t, 0.0, inc.At(2, 1))
}

func TestBuildIncidence_Deterministic(t *testing.T) {
	kb := clinicKB()
	diseases := []string{"flu", "cold", "migraine", "gastritis"}
	a := BuildIncidence(diseases, kb.relation, []string{"cough"})
	b := BuildIncidence(diseases, kb.relation, []string{"cough"})
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Symptoms, b.Symptoms)
}

func TestBuildIncidence_Empty(t *testing.T) {
	inc := BuildIncidence([]string{"D1"}, map[string][]string{"D1": nil}, nil)
	assert.Empty(t, inc.Symptoms)
	_, ok := inc.Column("S1")
	assert.False(t, ok)
	assert.True(t, inc.Equal(inc.RowNormalized()))
}

func TestRowNormalized(t *testing.T) {
	relation := map[string][]string{"D1": {"S1", "S2"}, "D2": {"S2"}, "D3": {}}
	inc := BuildIncidence([]string{"D1", "D2", "D3"}, relation, nil).RowNormalized()

	col, ok := inc.Column("S2")
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 1, 0}, col)
}

func TestUpdatePosterior_ScenarioA(t *testing.T) {
	relation := map[string][]string{"D1": {"S1"}, "D2": {}}
	inc := BuildIncidence([]string{"D1", "D2"}, relation, nil).RowNormalized()
	col, ok := inc.Column("S1")
	require.True(t, ok)
	prior := Distribution{Names: []string{"D1", "D2"}, Values: []float64{0.5, 0.5}}

	yes := UpdatePosterior(prior, col, 0.5, true)
	assertValidPosterior(t, yes)
	assert.Greater(t, yes.Values[0], yes.Values[1])

	no := UpdatePosterior(prior, col, 0.5, false)
	assertValidPosterior(t, no)
	assert.Less(t, no.Values[0], no.Values[1])
}

func TestUpdatePosterior_FloorKeepsEveryDisease(t *testing.T) {
	prior := Distribution{
		Names:  []string{"a", "b", "c", "d"},
		Values: []float64{0.97, 0.01, 0.01, 0.01},
	}
	out := UpdatePosterior(prior, []float64{1, 0, 0, 0}, 0, true)
	assertValidPosterior(t, out)
	assert.Equal(t, MinProbability, out.Values[1])
	assert.InDelta(t, 1-3*MinProbability, out.Values[0], 1e-12)
}

func TestUpdatePosterior_DegenerateInputs(t *testing.T) {
	prior := Distribution{Names: []string{"a", "b"}, Values: []float64{math.NaN(), 0}}
	out := UpdatePosterior(prior, []float64{0, 0}, math.NaN(), true)
	assertValidPosterior(t, out)
	assert.InDelta(t, 0.5, out.Values[0], 1e-12)
}

func TestPriorDistribution_FallsBackToUniform(t *testing.T) {
	p := PriorDistribution([]string{"a", "b", "c", "d"}, map[string]float64{"a": 0.9, "b": 0.05})
	for _, v := range p.Values {
		assert.InDelta(t, 0.25, v, 1e-12)
	}

	p = PriorDistribution([]string{"a", "b"}, map[string]float64{"a": 3, "b": 1})
	assert.InDelta(t, 0.75, p.Values[0], 1e-12)
	assertValidPosterior(t, p)
}

func TestEntropy(t *testing.T) {
	assert.InDelta(t, math.Log(2), Entropy([]float64{0.5, 0.5}), 1e-9)
	assert.InDelta(t, 0, Entropy([]float64{1, 0}), 1e-9)
}

func TestEstimateGains_EmptyColumnScoresZero(t *testing.T) {
	// Built by hand: the builder never emits an all-zero column.
	relation := map[string][]string{"D1": {"S1"}, "D2": {"S2"}}
	inc := BuildIncidence([]string{"D1", "D2"}, relation, nil)
	inc.m.Set(0, 0, 0)

	p := Distribution{Names: []string{"D1", "D2"}, Values: []float64{0.5, 0.5}}
	gains := EstimateGains(p, inc, map[string]float64{"S1": 0.5, "S2": 0.5})

	assert.Equal(t, []string{"S1", "S2"}, gains.Names)
	assert.Equal(t, 0.0, gains.Values[0])
	assert.Greater(t, gains.Values[1], 0.0)
}

func TestEstimateGains_DiseasesWithoutSymptoms(t *testing.T) {
	relation := map[string][]string{"D1": {}, "D2": {}}
	inc := BuildIncidence([]string{"D1", "D2"}, relation, nil)
	p := Distribution{Names: []string{"D1", "D2"}, Values: []float64{0.5, 0.5}}

	gains := EstimateGains(p, inc, nil)
	assert.Equal(t, 0, gains.Len())
}

func TestEstimateGains_PureAndBounded(t *testing.T) {
	kb := clinicKB()
	diseases := []string{"flu", "cold", "migraine", "gastritis"}
	inc := BuildIncidence(diseases, kb.relation, nil)
	p := PriorDistribution(diseases, kb.diseasePriors)

	first := EstimateGains(p, inc, kb.symptomPriors)
	second := EstimateGains(p, inc, kb.symptomPriors)
	assert.Equal(t, first, second)
	assert.Equal(t, inc.Symptoms, first.Names)
	for _, v := range first.Values {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestEstimateGains_SharedSymptomCarriesNoInformation(t *testing.T) {
	relation := map[string][]string{"D1": {"shared", "a"}, "D2": {"shared", "b"}}
	inc := BuildIncidence([]string{"D1", "D2"}, relation, nil)
	p := Distribution{Names: []string{"D1", "D2"}, Values: []float64{0.5, 0.5}}

	gains := EstimateGains(p, inc, map[string]float64{"shared": 0.5, "a": 0.5, "b": 0.5})
	assert.Equal(t, []string{"shared", "a", "b"}, gains.Names)

	shared, _ := gains.Get("shared")
	a, _ := gains.Get("a")
	assert.InDelta(t, 0, shared, 1e-9)
	assert.Greater(t, a, 0.1)
}

func TestSelectNextSymptom(t *testing.T) {
	gains := GainMap{Names: []string{"a", "b", "c", "d"}, Values: []float64{0.2, 0.7, 0.7, 0.9}}

	s, ok := SelectNextSymptom(gains, nil)
	require.True(t, ok)
	assert.Equal(t, "d", s)

	s, ok = SelectNextSymptom(gains, Answers{{Symptom: "d", Present: true}})
	require.True(t, ok)
	assert.Equal(t, "b", s, "ties go to the first maximum")

	_, ok = SelectNextSymptom(GainMap{}, nil)
	assert.False(t, ok)
}

func gainsWithMax(v float64) GainMap {
	return GainMap{Names: []string{"x", "y"}, Values: []float64{v / 2, v}}
}

func TestStopPolicy(t *testing.T) {
	policy := StopPolicy{Limit: 10}

	tests := []struct {
		name   string
		maxima []float64
		rounds int
		want   bool
	}{
		{"too few rounds", []float64{0.5, 0.4}, 2, false},
		{"decelerating improvement", []float64{0.50, 0.40, 0.39}, 3, true},
		{"accelerating improvement", []float64{0.10, 0.11, 0.20}, 3, false},
		{"absolute growth with slowing relative growth", []float64{0.10, 0.20, 0.35}, 3, true},
		{"hard cap ignores history", []float64{0.10, 0.11, 0.20}, 10, true},
		{"hard cap with no history", nil, 12, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var history []GainMap
			for _, m := range tt.maxima {
				history = append(history, gainsWithMax(m))
			}
			assert.Equal(t, tt.want, policy.ShouldStop(history, tt.rounds))
		})
	}

	assert.True(t, StopPolicy{}.ShouldStop(nil, DefaultRoundLimit))
}

func TestTopK(t *testing.T) {
	p := Distribution{Names: []string{"a", "b", "c", "d"}, Values: []float64{0.2, 0.3, 0.2, 0.3}}

	top := TopK(p, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "b", top[0].Disease)
	assert.Equal(t, "d", top[1].Disease)
	assert.Equal(t, "a", top[2].Disease)

	assert.Len(t, TopK(p, 10), 4)
	assert.Empty(t, TopK(p, 0))
}

func TestOrderedJSONPreservesOrder(t *testing.T) {
	g := GainMap{Names: []string{"z", "a", "m"}, Values: []float64{0.1, 0.5, 0.25}}
	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"z","value":0.1},{"name":"a","value":0.5},{"name":"m","value":0.25}]`, string(data))

	var back GainMap
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, g, back)

	var empty Distribution
	require.NoError(t, json.Unmarshal([]byte(`[]`), &empty))
	assert.Equal(t, 0, empty.Len())
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.Equal(t, 0, empty.Len())
}

// sortObjectKeys re-encodes data with every object's keys ordered the way
// postgres jsonb stores them: shorter keys first, then bytewise.
func sortObjectKeys(t *testing.T, data []byte) []byte {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal(data, &v))
	var buf bytes.Buffer
	writeSorted(t, &buf, v)
	return buf.Bytes()
}

func writeSorted(t *testing.T, buf *bytes.Buffer, v interface{}) {
	switch x := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if len(keys[i]) != len(keys[j]) {
				return len(keys[i]) < len(keys[j])
			}
			return keys[i] < keys[j]
		})
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			writeSorted(t, buf, x[k])
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeSorted(t, buf, e)
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(x)
		require.NoError(t, err)
		buf.Write(b)
	}
}

func TestState_SurvivesKeySortingStore(t *testing.T) {
	engine := NewEngine(clinicKB())
	ctx := context.Background()

	diseases := []string{"gastritis", "migraine", "cold", "flu"}
	state, err := engine.Initialize(ctx, "stomach ache and headache", diseases)
	require.NoError(t, err)

	for round := 0; round < 3; round++ {
		data, err := json.Marshal(state)
		require.NoError(t, err)

		var stored State
		require.NoError(t, json.Unmarshal(sortObjectKeys(t, data), &stored))
		assert.Equal(t, diseases, stored.Diseases)
		assert.Equal(t, stored.Diseases, stored.Last().Posterior.Names)
		assert.Equal(t, state.Last().Gains, stored.Last().Gains)
		assert.Equal(t, state.Last().Posterior, stored.Last().Posterior)

		symptom, ok := SelectNextSymptom(stored.Last().Gains, stored.Answered)
		require.True(t, ok)
		want, _ := SelectNextSymptom(state.Last().Gains, state.Answered)
		assert.Equal(t, want, symptom)

		state, err = engine.Advance(ctx, stored, symptom, round%2 == 0, "answer")
		require.NoError(t, err)
	}
}

func TestEngine_Session(t *testing.T) {
	kb := clinicKB()
	engine := NewEngine(kb)
	ctx := context.Background()

	state, err := engine.Initialize(ctx, "I have a headache and feel sick", []string{"flu", "cold", "migraine", "gastritis", "flu"})
	require.NoError(t, err)
	require.Len(t, state.Rounds, 1)
	assert.Equal(t, []string{"flu", "cold", "migraine", "gastritis"}, state.Diseases)
	assertValidPosterior(t, state.Last().Posterior)

	answers := []bool{true, false, true, false}
	for i, present := range answers {
		before := state
		symptom, ok := SelectNextSymptom(state.Last().Gains, state.Answered)
		require.True(t, ok)

		state, err = engine.Advance(ctx, state, symptom, present, "answer")
		require.NoError(t, err)

		assert.Len(t, state.Rounds, i+2)
		assert.Len(t, before.Rounds, i+1, "input state must not change")
		assert.Equal(t, len(before.Symptoms())-1, len(state.Symptoms()))
		assertValidPosterior(t, state.Last().Posterior)
		assert.Equal(t, state.Diseases, state.Last().Posterior.Names)
		for _, a := range state.Answered {
			assert.False(t, state.Last().Gains.Has(a.Symptom))
		}
	}
}

func TestEngine_PositiveAnswerFavorsLinkedDisease(t *testing.T) {
	kb := &fakeKB{
		relation:      map[string][]string{"D1": {"S1"}, "D2": {"S2"}},
		symptomPriors: map[string]float64{"S1": 0.5, "S2": 0.5},
	}
	engine := NewEngine(kb)
	ctx := context.Background()

	state, err := engine.Initialize(ctx, "complaint", []string{"D1", "D2"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, state.Last().Posterior.Values)

	next, err := engine.Advance(ctx, state, "S1", true, "yes")
	require.NoError(t, err)
	d1, _ := next.Last().Posterior.Get("D1")
	d2, _ := next.Last().Posterior.Get("D2")
	assert.Greater(t, d1, d2)
	assert.Equal(t, []string{"S2"}, next.Symptoms())
}

func TestEngine_RejectsInvalidAdvance(t *testing.T) {
	engine := NewEngine(clinicKB())
	ctx := context.Background()

	state, err := engine.Initialize(ctx, "cough", []string{"flu", "cold"})
	require.NoError(t, err)

	_, err = engine.Advance(ctx, state, "nausea", true, "yes")
	assert.ErrorIs(t, err, ErrInvalidAdvance)

	next, err := engine.Advance(ctx, state, "cough", true, "yes")
	require.NoError(t, err)
	_, err = engine.Advance(ctx, next, "cough", false, "no")
	assert.ErrorIs(t, err, ErrInvalidAdvance)

	_, err = engine.Advance(ctx, next.Terminate(), "fever", true, "yes")
	assert.ErrorIs(t, err, ErrSessionTerminal)

	tampered := next
	tampered.Diseases = []string{"flu"}
	_, err = engine.Advance(ctx, tampered, "fever", true, "yes")
	assert.ErrorIs(t, err, ErrDiseaseSetMismatch)
}

func TestEngine_KnowledgeBaseFailure(t *testing.T) {
	kb := clinicKB()
	engine := NewEngine(kb)
	ctx := context.Background()

	state, err := engine.Initialize(ctx, "cough", []string{"flu", "cold"})
	require.NoError(t, err)

	kb.err = errors.New("connection refused")
	_, err = engine.Advance(ctx, state, "cough", true, "yes")
	assert.ErrorIs(t, err, ErrKnowledgeBaseUnavailable)

	_, err = engine.Initialize(ctx, "cough", []string{"flu"})
	assert.ErrorIs(t, err, ErrKnowledgeBaseUnavailable)
}

func TestEngine_NoCandidates(t *testing.T) {
	_, err := NewEngine(clinicKB()).Initialize(context.Background(), "fine", []string{" ", ""})
	assert.ErrorIs(t, err, ErrNoCandidateDiseases)
}
