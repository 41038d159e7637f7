package inference

import (
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Incidence is the disease x symptom 0/1 matrix for one round.
// Rows follow Diseases, columns follow Symptoms.
type Incidence struct {
	Diseases []string
	Symptoms []string

	// nil when there are no diseases or no symptoms; gonum refuses
	// zero-sized dense matrices.
	m *mat.Dense
}

// BuildIncidence builds the incidence matrix for diseases. The column order is
// the first-seen union of the diseases' symptom lists minus exclude. A
// disease without an entry in relation gets an all-zero row.
func BuildIncidence(diseases []string, relation map[string][]string, exclude []string) Incidence {
	skip := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		skip[s] = true
	}

	index := map[string]int{}
	var symptoms []string
	for _, d := range diseases {
		for _, s := range relation[d] {
			if strings.TrimSpace(s) == "" || skip[s] {
				continue
			}
			if _, seen := index[s]; !seen {
				index[s] = len(symptoms)
				symptoms = append(symptoms, s)
			}
		}
	}

	inc := Incidence{
		Diseases: append([]string(nil), diseases...),
		Symptoms: symptoms,
	}
	if len(diseases) == 0 || len(symptoms) == 0 {
		return inc
	}

	inc.m = mat.NewDense(len(diseases), len(symptoms), nil)
	for i, d := range diseases {
		for _, s := range relation[d] {
			if j, ok := index[s]; ok {
				inc.m.Set(i, j, 1)
			}
		}
	}
	return inc
}

func (inc Incidence) At(i, j int) float64 {
	if inc.m == nil {
		return 0
	}
	return inc.m.At(i, j)
}

// RowNormalized returns a copy where each disease row sums to 1. All-zero
// rows stay zero.
func (inc Incidence) RowNormalized() Incidence {
	out := Incidence{Diseases: inc.Diseases, Symptoms: inc.Symptoms}
	if inc.m == nil {
		return out
	}
	out.m = mat.DenseCopyOf(inc.m)
	r, _ := out.m.Dims()
	for i := 0; i < r; i++ {
		row := out.m.RawRowView(i)
		if sum := floats.Sum(row); sum > 0 {
			floats.Scale(1/sum, row)
		}
	}
	return out
}

// Column returns the column for symptom, one value per disease.
func (inc Incidence) Column(symptom string) ([]float64, bool) {
	for j, s := range inc.Symptoms {
		if s == symptom {
			return inc.columnAt(j), true
		}
	}
	return nil, false
}

func (inc Incidence) columnAt(j int) []float64 {
	if inc.m == nil {
		return make([]float64, len(inc.Diseases))
	}
	return mat.Col(nil, j, inc.m)
}

// Equal reports whether both matrices have the same orderings and entries.
func (inc Incidence) Equal(other Incidence) bool {
	if !sameNames(inc.Diseases, other.Diseases) || !sameNames(inc.Symptoms, other.Symptoms) {
		return false
	}
	if inc.m == nil || other.m == nil {
		return inc.m == nil && other.m == nil
	}
	return mat.Equal(inc.m, other.m)
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
