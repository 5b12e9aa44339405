package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/config"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/feed"
	"quiz-live-service/internal/infra/memory"
	pgstore "quiz-live-service/internal/infra/postgres"
	redisinfra "quiz-live-service/internal/infra/redis"
	transport "quiz-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	codeTTL := config.TTLDuration(cfg.Redis.CodeTTL, 12*time.Hour)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	hub := feed.NewHub()

	// One struct serves every store interface; which one depends on whether
	// Postgres is configured.
	var (
		sessions  app.SessionStore
		roster    app.RosterStore
		answers   app.AnswerStore
		quizStore app.QuizStore
		loader    memory.QuizLoader
	)
	if pool != nil {
		store := pgstore.NewStore(pool, hub)
		sessions, roster, answers, quizStore, loader = store, store, store, store, store
	} else {
		store := memory.NewStore(hub)
		seedDemoQuiz(ctx, store)
		sessions, roster, answers, quizStore, loader = store, store, store, store, store
	}

	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var codes app.CodeRegistry
	if redisClient != nil {
		codes = redisinfra.NewCodeRegistry(redisClient, codeTTL)
	} else {
		codes = memory.NewCodeRegistry()
	}

	sessionService := app.NewSessionService(sessions, roster, answers, quizRepo, codes)
	quizService := app.NewQuizService(quizStore)

	observers := func(sessionID string) *app.Observer {
		return app.NewObserver(sessionID, sessions, roster, quizRepo, hub)
	}
	wsHandler := transport.NewWSHandler(sessionService, observers)
	apiHandler := transport.NewAPIHandler(quizService, sessionService)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	apiHandler.Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoQuiz gives the no-database mode something to host right away.
func seedDemoQuiz(ctx context.Context, store *memory.Store) {
	err := store.CreateQuiz(ctx, domain.Quiz{
		ID:          "demo-quiz",
		OwnerID:     "demo-host",
		Title:       "Demo quiz",
		Description: "Two questions to try the live session flow",
		Published:   true,
		Questions: []domain.Question{
			{
				Text:          "What is 2 + 2?",
				Options:       []string{"3", "4", "5"},
				CorrectAnswer: 1,
			},
			{
				Text:          "Which planet is closest to the sun?",
				Options:       []string{"Venus", "Earth", "Mercury"},
				CorrectAnswer: 2,
			},
		},
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Printf("seed demo quiz: %v", err)
		return
	}
	log.Printf("seeded demo quiz %q owned by %q", "demo-quiz", "demo-host")
}
