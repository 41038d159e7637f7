package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Save(ctx context.Context, s *Session) error
	List(ctx context.Context, limit int) ([]Session, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

const sessionColumns = `id, patient_id, history, state, pending_symptom, pending_question, diagnosis, is_complete, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var historyJSON, stateJSON, diagnosisJSON []byte

	err := row.Scan(
		&s.ID,
		&s.PatientID,
		&historyJSON,
		&stateJSON,
		&s.PendingSymptom,
		&s.PendingQuestion,
		&diagnosisJSON,
		&s.IsComplete,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &s.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &s.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
	}
	if len(diagnosisJSON) > 0 {
		if err := json.Unmarshal(diagnosisJSON, &s.Diagnosis); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diagnosis: %w", err)
		}
	}
	return &s, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM diagnosis_sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *postgresRepo) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + ` FROM diagnosis_sessions ORDER BY updated_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *postgresRepo) Save(ctx context.Context, s *Session) error {
	historyJSON, err := json.Marshal(s.History)
	if err != nil {
		return err
	}
	stateJSON, err := json.Marshal(s.State)
	if err != nil {
		return err
	}
	diagnosisJSON, err := json.Marshal(s.Diagnosis)
	if err != nil {
		return err
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.UpdatedAt = time.Now()

	query := `
		INSERT INTO diagnosis_sessions (id, patient_id, history, state, pending_symptom, pending_question, diagnosis, is_complete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			history = $3,
			state = $4,
			pending_symptom = $5,
			pending_question = $6,
			diagnosis = $7,
			is_complete = $8,
			updated_at = $10
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.PatientID, historyJSON, stateJSON, s.PendingSymptom, s.PendingQuestion, diagnosisJSON, s.IsComplete, s.CreatedAt, s.UpdatedAt)
	return err
}
