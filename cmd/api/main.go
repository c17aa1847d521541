package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/netutil"

	"focusloop-backend/internal/ai"
	"focusloop-backend/internal/analytics"
	"focusloop-backend/internal/auth"
	"focusloop-backend/internal/config"
	"focusloop-backend/internal/db"
	"focusloop-backend/internal/outcomes"
	"focusloop-backend/internal/prioritize"
	"focusloop-backend/internal/tasks"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.ConnString())
	if err != nil {
		log.Fatal("❌ Failed to connect DB:", err)
	}
	defer database.Close()

	log.Println("✅ Connected to PostgreSQL!")

	tuning, err := config.LoadLoopTuning(cfg.LoopTuningPath)
	if err != nil {
		log.Printf("[WARN] loop tuning load failed, using defaults: %v", err)
	}
	holder := config.NewTuningHolder(tuning)
	stopWatch, err := config.WatchLoopTuning(cfg.LoopTuningPath, holder)
	if err != nil {
		log.Printf("[WARN] loop tuning watcher unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	aiClient := ai.New(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	aiClient.Retry = ai.RetryPolicy{
		MaxAttempts: tuning.ServiceRetries,
		Backoff:     time.Duration(tuning.ServiceBackoffMS) * time.Millisecond,
	}
	aiClient.SoftTimeout = time.Duration(tuning.SoftCallTimeoutMS) * time.Millisecond

	store := prioritize.NewStore(database)
	runner := prioritize.NewRunner(
		store,
		&prioritize.LLMGenerator{AI: aiClient},
		&prioritize.LLMEvaluator{AI: aiClient},
		holder,
		analytics.BackgroundLogger{DB: database},
	)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	store.StartJanitor(janitorCtx)

	secret := []byte(cfg.JWTSecret)
	authMW := auth.New(secret)

	mux := http.NewServeMux()

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// ----- AUTH API -----
	mux.HandleFunc("/auth/register", post(auth.RegisterHandler(database, secret)))
	mux.HandleFunc("/auth/login", post(auth.LoginHandler(database, secret)))
	mux.HandleFunc("/auth/logout", post(authMW.Wrap(auth.LogoutHandler())))
	mux.HandleFunc("/auth/me", get(authMW.Wrap(auth.MeHandler(database))))
	mux.HandleFunc("/auth/delete", post(authMW.Wrap(auth.DeleteAccountHandler(database))))

	// ----- OUTCOME API -----
	mux.HandleFunc("/outcome", authMW.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			outcomes.GetOutcomeHandler(database)(w, r)
		case http.MethodPost:
			outcomes.CreateOutcomeHandler(database)(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// ----- REFLECTIONS API -----
	mux.HandleFunc("/reflections", authMW.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			outcomes.ListReflectionsHandler(database)(w, r)
		case http.MethodPost:
			outcomes.AddReflectionHandler(database)(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// ----- TASKS API -----
	mux.HandleFunc("/tasks", authMW.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			tasks.GetTasksHandler(database)(w, r)
		case http.MethodPost:
			tasks.CreateTaskHandler(database)(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.HandleFunc("/tasks/status", post(authMW.Wrap(tasks.SetTaskStatusHandler(database))))

	// ----- PRIORITIZE API -----
	mux.HandleFunc("/prioritize/start", post(authMW.Wrap(prioritize.StartHandler(runner, database))))
	mux.HandleFunc("/prioritize/session", get(authMW.Wrap(prioritize.GetSessionHandler(store))))
	mux.HandleFunc("/prioritize/latest", get(authMW.Wrap(prioritize.LatestHandler(store))))

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Platform", "X-App-Version", "X-Session-Id", "Idempotency-Key"},
		AllowCredentials: true,
	})

	handler := c.Handler(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("❌ Failed to listen:", err)
	}
	listener = netutil.LimitListener(listener, cfg.MaxConns)

	log.Printf("🚀 API server is running on %s", addr)
	log.Fatal(http.Serve(listener, handler))
}

func post(next http.HandlerFunc) http.HandlerFunc {
	return allow(http.MethodPost, next)
}

func get(next http.HandlerFunc) http.HandlerFunc {
	return allow(http.MethodGet, next)
}

func allow(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
