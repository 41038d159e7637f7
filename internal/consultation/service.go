package consultation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"diagnostic-engine/internal/inference"
)

var ErrEmptyUtterance = errors.New("empty utterance")

// AgentClient covers the natural-language steps around the engine.
// We define it here to decouple from the specific agent implementation.
type AgentClient interface {
	ExtractCandidateDiseases(ctx context.Context, complaint string, limit int) ([]string, error)
	PhraseQuestion(ctx context.Context, symptom string, diseases []string) (string, error)
	InterpretAnswer(ctx context.Context, utterance, symptom, question string) (bool, error)
}

// DiseaseMatcher resolves free-form disease names to knowledge base names.
type DiseaseMatcher interface {
	MatchKnown(ctx context.Context, names []string) ([]string, error)
}

// ReportService defines the interface for sending reports
type ReportService interface {
	SendDoctorReport(ctx context.Context, s Session) error
}

// STTClient defines the interface for Speech-to-Text
type STTClient interface {
	Transcribe(ctx context.Context, audioData []byte) (string, error)
}

type Service interface {
	CreateSession(ctx context.Context, patientID uuid.UUID) (*Session, error)
	Respond(ctx context.Context, sessionID uuid.UUID, utterance string) (*Reply, error)
	RespondAudio(ctx context.Context, sessionID uuid.UUID, audio []byte) (*Reply, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	List(ctx context.Context, limit int) ([]Session, error)
	Diagnosis(ctx context.Context, sessionID uuid.UUID, k int) ([]inference.Ranked, error)
}

type Options struct {
	RoundLimit     int
	TopK           int
	CandidateLimit int
}

type service struct {
	repo      Repository
	engine    *inference.Engine
	matcher   DiseaseMatcher
	aiClient  AgentClient
	sttClient STTClient
	reportSvc ReportService
	policy    inference.StopPolicy
	opts      Options
	locks     *sessionLocks
}

func NewService(repo Repository, engine *inference.Engine, matcher DiseaseMatcher, ai AgentClient, stt STTClient, report ReportService, opts Options) Service {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 10
	}
	return &service{
		repo:      repo,
		engine:    engine,
		matcher:   matcher,
		aiClient:  ai,
		sttClient: stt,
		reportSvc: report,
		policy:    inference.StopPolicy{Limit: opts.RoundLimit},
		opts:      opts,
		locks:     newSessionLocks(),
	}
}

func (s *service) CreateSession(ctx context.Context, patientID uuid.UUID) (*Session, error) {
	sess := &Session{
		ID:        uuid.New(),
		PatientID: patientID,
		History:   []Message{},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *service) Get(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return s.repo.GetByID(ctx, sessionID)
}

func (s *service) List(ctx context.Context, limit int) ([]Session, error) {
	return s.repo.List(ctx, limit)
}

func (s *service) Diagnosis(ctx context.Context, sessionID uuid.UUID, k int) ([]inference.Ranked, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(sess.State.Rounds) == 0 {
		return []inference.Ranked{}, nil
	}
	if k <= 0 {
		k = s.opts.TopK
	}
	return inference.TopK(sess.State.Last().Posterior, k), nil
}

func (s *service) RespondAudio(ctx context.Context, sessionID uuid.UUID, audio []byte) (*Reply, error) {
	text, err := s.sttClient.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	reply, err := s.Respond(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}
	reply.Transcript = text
	return reply, nil
}

// Respond processes one patient turn. The session is only saved when the
// whole turn succeeds, so a failed turn leaves the stored session unchanged.
func (s *service) Respond(ctx context.Context, sessionID uuid.UUID, utterance string) (*Reply, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsComplete || sess.State.Terminal {
		return nil, inference.ErrSessionTerminal
	}

	var state inference.State
	if len(sess.State.Rounds) == 0 {
		state, err = s.startRounds(ctx, utterance)
	} else {
		state, err = s.advanceRound(ctx, sess, utterance)
	}
	if err != nil {
		return nil, err
	}

	next := *sess
	next.State = state
	next.History = append(append([]Message(nil), sess.History...), Message{
		Role: "user", Content: utterance, Timestamp: time.Now(),
	})

	reply, err := s.nextStep(ctx, &next)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, &next); err != nil {
		return nil, err
	}

	if next.IsComplete && s.reportSvc != nil {
		if err := s.reportSvc.SendDoctorReport(ctx, next); err != nil {
			log.Printf("Failed to send report for session %s: %v", next.ID, err)
		}
	}
	return reply, nil
}

func (s *service) startRounds(ctx context.Context, complaint string) (inference.State, error) {
	names, err := s.aiClient.ExtractCandidateDiseases(ctx, complaint, s.opts.CandidateLimit)
	if err != nil {
		return inference.State{}, fmt.Errorf("disease extraction failed: %w", err)
	}
	matched, err := s.matcher.MatchKnown(ctx, names)
	if err != nil {
		return inference.State{}, fmt.Errorf("%w: %v", inference.ErrKnowledgeBaseUnavailable, err)
	}
	log.Printf("Candidate diseases: %d extracted, %d known", len(names), len(matched))
	return s.engine.Initialize(ctx, complaint, matched)
}

func (s *service) advanceRound(ctx context.Context, sess *Session, utterance string) (inference.State, error) {
	if sess.PendingSymptom == "" {
		return inference.State{}, fmt.Errorf("%w: no question pending", inference.ErrInvalidAdvance)
	}
	present, err := s.aiClient.InterpretAnswer(ctx, utterance, sess.PendingSymptom, sess.PendingQuestion)
	if err != nil {
		return inference.State{}, fmt.Errorf("answer interpretation failed: %w", err)
	}
	return s.engine.Advance(ctx, sess.State, sess.PendingSymptom, present, utterance)
}

// nextStep either asks the next question or closes the session.
func (s *service) nextStep(ctx context.Context, sess *Session) (*Reply, error) {
	state := sess.State
	last := state.Last()
	reply := &Reply{SessionID: sess.ID, Round: len(state.Rounds) - 1}

	symptom, ok := inference.SelectNextSymptom(last.Gains, state.Answered)
	if !ok || s.policy.ShouldStop(state.GainHistory(), len(state.Rounds)) {
		sess.State = state.Terminate()
		sess.IsComplete = true
		sess.PendingSymptom = ""
		sess.PendingQuestion = ""
		sess.Diagnosis = inference.TopK(last.Posterior, s.opts.TopK)

		reply.IsComplete = true
		reply.Diagnosis = sess.Diagnosis
		reply.Response = summarize(sess.Diagnosis)
	} else {
		shortlist := diseaseNames(inference.TopK(last.Posterior, s.opts.TopK))
		question, err := s.aiClient.PhraseQuestion(ctx, symptom, shortlist)
		if err != nil {
			return nil, fmt.Errorf("question generation failed: %w", err)
		}
		sess.PendingSymptom = symptom
		sess.PendingQuestion = question

		reply.Symptom = symptom
		reply.Response = question
	}

	sess.History = append(sess.History, Message{
		Role: "assistant", Content: reply.Response, Symptom: reply.Symptom, Timestamp: time.Now(),
	})
	return reply, nil
}

func summarize(diagnosis []inference.Ranked) string {
	if len(diagnosis) == 0 {
		return "Thank you. The consultation is complete."
	}
	parts := make([]string, len(diagnosis))
	for i, r := range diagnosis {
		parts[i] = fmt.Sprintf("%s (%.0f%%)", r.Disease, r.Probability*100)
	}
	return "Thank you. The consultation is complete. Most likely conditions: " + strings.Join(parts, ", ") + "."
}

func diseaseNames(ranked []inference.Ranked) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Disease
	}
	return out
}
