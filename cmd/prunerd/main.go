// Command prunerd exposes one review session over a small JSON API. It is the
// hosted counterpart to driving the engine as a library: a frontend points at
// it and walks the queue through /api/session endpoints.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/prunerapp/pruner/pkg/directory/mastodon"
	"github.com/prunerapp/pruner/pkg/logging"
	"github.com/prunerapp/pruner/pkg/session"
	"github.com/prunerapp/pruner/pkg/store"
)

func main() {
	// Configuration from environment
	instanceURL := getEnv("INSTANCE_URL", "")
	accessToken := getEnv("ACCESS_TOKEN", "")
	accountID := getEnv("ACCOUNT_ID", "")
	accountUsername := getEnv("ACCOUNT_USERNAME", "")
	storeBackend := getEnv("STORE_BACKEND", "sqlite")
	redisURL := getEnv("REDIS_URL", "redis://localhost:6379/0")
	sqlitePath := getEnv("SQLITE_PATH", "pruner.db")
	port := getEnv("PORT", "8080")
	logLevel := getEnv("LOG_LEVEL", "info")
	userAgent := getEnv("USER_AGENT", "pruner/0.1.0")

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Output: os.Stderr,
	})

	if instanceURL == "" || accessToken == "" || accountID == "" {
		logger.Fatal().Msg("INSTANCE_URL, ACCESS_TOKEN, and ACCOUNT_ID are required")
	}

	ctx := context.Background()

	kv, err := openStore(ctx, storeBackend, redisURL, sqlitePath)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", storeBackend).Msg("Failed to open store")
	}
	defer kv.Close()
	logger.Info().Str("backend", storeBackend).Msg("Store ready")

	dir, err := mastodon.New(mastodon.Config{
		BaseURL:     instanceURL,
		AccessToken: accessToken,
		UserAgent:   userAgent,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create directory client")
	}

	sess, err := session.New(session.Config{
		Directory:       dir,
		Store:           kv,
		AccountID:       accountID,
		AccountUsername: accountUsername,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create session")
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      newMux(sess),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	logger.Info().Str("addr", srv.Addr).Str("instance", instanceURL).Msg("Starting prunerd")
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// newMux wires the API routes around one session.
func newMux(sess *session.Session) *http.ServeMux {
	api := &apiServer{
		sess:   sess,
		logger: log.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/session/start", api.handleStart)
	mux.HandleFunc("GET /api/session/current", api.handleCurrent)
	mux.HandleFunc("GET /api/session/snapshot", api.handleSnapshot)
	mux.HandleFunc("POST /api/session/keep", api.handleKeep)
	mux.HandleFunc("POST /api/session/unfollow", api.handleUnfollow)
	mux.HandleFunc("POST /api/session/undo", api.handleUndo)
	mux.HandleFunc("POST /api/session/confirm", api.handleConfirm)
	mux.HandleFunc("POST /api/session/reorder", api.handleReorder)
	mux.HandleFunc("POST /api/session/settings", api.handleSettings)
	mux.HandleFunc("POST /api/session/reset", api.handleReset)
	return mux
}

// openStore selects the persistence backend.
func openStore(ctx context.Context, backend, redisURL, sqlitePath string) (store.KV, error) {
	switch backend {
	case "redis":
		return store.NewRedis(ctx, redisURL)
	case "sqlite":
		return store.OpenSQLite(ctx, sqlitePath)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, errUnknownBackend(backend)
	}
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string {
	return "unknown store backend " + string(e) + " (want redis, sqlite, or memory)"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
