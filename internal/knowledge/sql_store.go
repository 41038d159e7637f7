package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// SQLStore serves the knowledge base from the relation_disease_symptom,
// disease_prob and symptom_prob tables.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type relationRow struct {
	DiseaseName string `db:"disease_name"`
	SymptomList []byte `db:"symptom_list"`
}

type priorRow struct {
	Name        string  `db:"name"`
	Probability float64 `db:"probability"`
}

func (s *SQLStore) SymptomsOf(ctx context.Context, diseases []string) (map[string][]string, error) {
	out := make(map[string][]string, len(diseases))
	if len(diseases) == 0 {
		return out, nil
	}

	var rows []relationRow
	if err := s.selectIn(ctx, &rows,
		`SELECT disease_name, symptom_list FROM relation_disease_symptom WHERE disease_name IN (?)`, diseases); err != nil {
		return nil, fmt.Errorf("query relation: %w", err)
	}
	for _, r := range rows {
		var symptoms []string
		if len(r.SymptomList) > 0 {
			if err := json.Unmarshal(r.SymptomList, &symptoms); err != nil {
				return nil, fmt.Errorf("decode symptom list of %q: %w", r.DiseaseName, err)
			}
		}
		out[r.DiseaseName] = symptoms
	}
	return out, nil
}

func (s *SQLStore) DiseasePriors(ctx context.Context, diseases []string) (map[string]float64, error) {
	return s.priors(ctx,
		`SELECT disease_name AS name, probability FROM disease_prob WHERE disease_name IN (?)`, diseases)
}

func (s *SQLStore) SymptomPriors(ctx context.Context, symptoms []string) (map[string]float64, error) {
	return s.priors(ctx,
		`SELECT symptom_name AS name, probability FROM symptom_prob WHERE symptom_name IN (?)`, symptoms)
}

func (s *SQLStore) MatchKnown(ctx context.Context, names []string) ([]string, error) {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	var known []string
	if err := s.selectIn(ctx, &known,
		`SELECT disease_name FROM relation_disease_symptom WHERE disease_name IN (?)`, cleaned); err != nil {
		return nil, fmt.Errorf("match diseases: %w", err)
	}
	exists := make(map[string]bool, len(known))
	for _, k := range known {
		exists[k] = true
	}

	var matched []string
	for _, n := range cleaned {
		if exists[n] {
			matched = append(matched, n)
			delete(exists, n)
		}
	}
	return matched, nil
}

// Import replaces the knowledge tables with the content of store.
func (s *SQLStore) Import(ctx context.Context, store *Store) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"relation_disease_symptom", "disease_prob", "symptom_prob"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insertRelation := tx.Rebind(`INSERT INTO relation_disease_symptom (disease_name, symptom_list) VALUES (?, ?)`)
	for _, d := range store.diseases {
		symptoms := d.Symptoms
		if symptoms == nil {
			symptoms = []string{}
		}
		list, err := json.Marshal(symptoms)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertRelation, d.Name, string(list)); err != nil {
			return fmt.Errorf("insert relation %q: %w", d.Name, err)
		}
	}

	insertDisease := tx.Rebind(`INSERT INTO disease_prob (disease_name, probability) VALUES (?, ?)`)
	for name, p := range store.diseasePriors {
		if _, err := tx.ExecContext(ctx, insertDisease, name, p); err != nil {
			return fmt.Errorf("insert disease prior %q: %w", name, err)
		}
	}

	insertSymptom := tx.Rebind(`INSERT INTO symptom_prob (symptom_name, probability) VALUES (?, ?)`)
	for name, p := range store.symptomPriors {
		if _, err := tx.ExecContext(ctx, insertSymptom, name, p); err != nil {
			return fmt.Errorf("insert symptom prior %q: %w", name, err)
		}
	}

	return tx.Commit()
}

func (s *SQLStore) priors(ctx context.Context, query string, names []string) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []priorRow
	if err := s.selectIn(ctx, &rows, query, names); err != nil {
		return nil, fmt.Errorf("query priors: %w", err)
	}
	for _, r := range rows {
		out[r.Name] = r.Probability
	}
	return out, nil
}

func (s *SQLStore) selectIn(ctx context.Context, dest interface{}, query string, args []string) error {
	q, params, err := sqlx.In(query, args)
	if err != nil {
		return err
	}
	return s.db.SelectContext(ctx, dest, s.db.Rebind(q), params...)
}
