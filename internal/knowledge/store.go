// Package knowledge provides the disease knowledge base: the disease/symptom
// relation, disease priors and symptom marginals.
package knowledge

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Disease is one knowledge base entry.
type Disease struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Categories    []string `json:"categories"`
	Symptoms      []string `json:"symptoms"`
	Departments   []string `json:"departments"`
	Treatments    []string `json:"treatments"`
	Checks        []string `json:"checks"`
	Drugs         []string `json:"drugs"`
	Complications []string `json:"complications"`
	Prevention    string   `json:"prevention"`
}

// Store is an in-memory knowledge base. It is built once and never modified,
// so a single Store can be shared by every session.
type Store struct {
	diseases      []Disease
	byName        map[string]int
	diseasePriors map[string]float64
	symptomPriors map[string]float64
}

func NewStore(diseases []Disease, diseasePriors, symptomPriors map[string]float64) *Store {
	s := &Store{
		byName:        make(map[string]int, len(diseases)),
		diseasePriors: copyPriors(diseasePriors),
		symptomPriors: copyPriors(symptomPriors),
	}
	for _, d := range diseases {
		if _, dup := s.byName[d.Name]; dup || d.Name == "" {
			continue
		}
		s.byName[d.Name] = len(s.diseases)
		s.diseases = append(s.diseases, d)
	}
	return s
}

// LoadStore reads the JSON-lines disease file and the optional CSV prior
// files. Malformed disease lines are skipped and logged as long as at least
// one disease loads.
func LoadStore(diseasePath, diseasePriorPath, symptomPriorPath string) (*Store, error) {
	f, err := os.Open(diseasePath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge file: %w", err)
	}
	defer f.Close()

	diseases, err := LoadDiseases(f)
	if err != nil {
		if len(diseases) == 0 {
			return nil, fmt.Errorf("load diseases: %w", err)
		}
		log.Printf("knowledge: skipped malformed entries in %s: %v", diseasePath, err)
	}

	diseasePriors, err := loadPriorFile(diseasePriorPath)
	if err != nil {
		return nil, fmt.Errorf("load disease priors: %w", err)
	}
	symptomPriors, err := loadPriorFile(symptomPriorPath)
	if err != nil {
		return nil, fmt.Errorf("load symptom priors: %w", err)
	}

	log.Printf("knowledge: loaded %d diseases, %d disease priors, %d symptom priors",
		len(diseases), len(diseasePriors), len(symptomPriors))
	return NewStore(diseases, diseasePriors, symptomPriors), nil
}

type diseaseRecord struct {
	ID             json.RawMessage `json:"_id"`
	Name           string          `json:"name"`
	Desc           string          `json:"desc"`
	Category       []string        `json:"category"`
	Symptom        []string        `json:"symptom"`
	CureDepartment []string        `json:"cure_department"`
	CureWay        []string        `json:"cure_way"`
	Check          []string        `json:"check"`
	RecommandDrug  []string        `json:"recommand_drug"`
	Acompany       []string        `json:"acompany"`
	Prevent        string          `json:"prevent"`
}

// LoadDiseases parses one JSON object per line. It returns every disease it
// could parse together with the combined errors of the lines it could not.
func LoadDiseases(r io.Reader) ([]Disease, error) {
	var (
		diseases []Disease
		result   *multierror.Error
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec diseaseRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			result = multierror.Append(result, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			result = multierror.Append(result, fmt.Errorf("line %d: missing name", line))
			continue
		}
		diseases = append(diseases, Disease{
			ID:            parseRecordID(rec.ID),
			Name:          name,
			Description:   rec.Desc,
			Categories:    rec.Category,
			Symptoms:      rec.Symptom,
			Departments:   rec.CureDepartment,
			Treatments:    rec.CureWay,
			Checks:        rec.Check,
			Drugs:         rec.RecommandDrug,
			Complications: rec.Acompany,
			Prevention:    rec.Prevent,
		})
	}
	if err := scanner.Err(); err != nil {
		result = multierror.Append(result, err)
	}
	return diseases, result.ErrorOrNil()
}

// parseRecordID accepts both "id" and {"$oid": "id"}.
func parseRecordID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var oid struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(raw, &oid); err == nil {
		return oid.OID
	}
	return ""
}

// LoadPriors parses "name,probability" rows. Rows whose probability does not
// parse are skipped, which also skips an optional header row.
func LoadPriors(r io.Reader) (map[string]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	priors := map[string]float64{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) < 2 {
			continue
		}
		name := strings.TrimSpace(row[0])
		p, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if name == "" || err != nil {
			continue
		}
		priors[name] = p
	}
	return priors, nil
}

func loadPriorFile(path string) (map[string]float64, error) {
	if path == "" {
		return map[string]float64{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadPriors(f)
}

func (s *Store) SymptomsOf(_ context.Context, diseases []string) (map[string][]string, error) {
	out := make(map[string][]string, len(diseases))
	for _, name := range diseases {
		if i, ok := s.byName[name]; ok {
			out[name] = append([]string(nil), s.diseases[i].Symptoms...)
		}
	}
	return out, nil
}

func (s *Store) DiseasePriors(_ context.Context, diseases []string) (map[string]float64, error) {
	return pickPriors(s.diseasePriors, diseases), nil
}

func (s *Store) SymptomPriors(_ context.Context, symptoms []string) (map[string]float64, error) {
	return pickPriors(s.symptomPriors, symptoms), nil
}

// MatchKnown returns the names that exactly match a known disease, in input
// order without duplicates.
func (s *Store) MatchKnown(_ context.Context, names []string) ([]string, error) {
	var matched []string
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := s.byName[n]; ok && !seen[n] {
			seen[n] = true
			matched = append(matched, n)
		}
	}
	return matched, nil
}

func (s *Store) Disease(name string) (Disease, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Disease{}, false
	}
	return s.diseases[i], true
}

// Diseases returns all entries in load order.
func (s *Store) Diseases() []Disease {
	return append([]Disease(nil), s.diseases...)
}

func pickPriors(all map[string]float64, names []string) map[string]float64 {
	out := make(map[string]float64, len(names))
	for _, n := range names {
		if p, ok := all[n]; ok {
			out[n] = p
		}
	}
	return out
}

func copyPriors(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
