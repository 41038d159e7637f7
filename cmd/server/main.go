package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"diagnostic-engine/internal/agent"
	"diagnostic-engine/internal/config"
	"diagnostic-engine/internal/consultation"
	"diagnostic-engine/internal/inference"
	"diagnostic-engine/internal/knowledge"
	"diagnostic-engine/internal/platform/postgres"
	"diagnostic-engine/internal/platform/telegram"
	"diagnostic-engine/internal/report"
)

// knowledgeSource is what the engine and the session layer need from the
// knowledge base.
type knowledgeSource interface {
	inference.KnowledgeBase
	consultation.DiseaseMatcher
}

func main() {
	cfg := config.Load()

	// 1. Infrastructure
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	log.Println("Connected to Database.")

	if err := postgres.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
		log.Fatal(err)
	}

	// 2. Knowledge base
	kb, lookup, err := openKnowledge(cfg, db)
	if err != nil {
		log.Fatalf("Knowledge base unavailable: %v", err)
	}

	// 3. Clients
	aiClient := agent.NewChatClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	sttClient := agent.NewWhisperClient(cfg.STTURL).WithLanguage(cfg.STTLanguage)
	tgClient := telegram.NewClient(cfg.TelegramBotToken)

	if cfg.DoctorChatID == 0 {
		log.Println("Warning: DOCTOR_CHAT_ID is not set or invalid. Reports will not be sent correctly.")
	}

	// 4. Services
	repo := consultation.NewRepository(db.DB)
	reportSvc := report.NewService(tgClient, cfg.DoctorChatID, lookup)
	consultationSvc := consultation.NewService(
		repo,
		inference.NewEngine(kb),
		kb,
		aiClient,
		sttClient,
		reportSvc,
		consultation.Options{
			RoundLimit:     cfg.RoundLimit,
			TopK:           cfg.ReportTopK,
			CandidateLimit: cfg.CandidateLimit,
		},
	)
	consultationHandler := consultation.NewHandler(consultationSvc)

	// 5. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			if r.Method == http.MethodOptions {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
	})

	fmt.Printf("Server starting on port %s...\n", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}

// openKnowledge picks the knowledge base named by KNOWLEDGE_SOURCE. Disease
// details for reports are only available from the file source.
func openKnowledge(cfg *config.Config, db *sqlx.DB) (knowledgeSource, report.DiseaseLookup, error) {
	switch cfg.KnowledgeSource {
	case config.KnowledgeFromPostgres:
		log.Println("Using knowledge tables from the database")
		return knowledge.NewSQLStore(db), nil, nil
	case config.KnowledgeFromFile:
		store, err := knowledge.LoadStore(cfg.KnowledgePath, cfg.DiseasePriorPath, cfg.SymptomPriorPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown KNOWLEDGE_SOURCE %q", cfg.KnowledgeSource)
	}
}
