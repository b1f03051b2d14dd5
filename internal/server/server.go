// Package server provides HTTP server initialization and lifecycle
// management for the hearth storage service.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/emberfall/hearth/internal/backup"
	"github.com/emberfall/hearth/internal/config"
	"github.com/emberfall/hearth/internal/notify"
	"github.com/emberfall/hearth/internal/repo"
	"github.com/emberfall/hearth/internal/settings"
	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/web/handlers"
)

// Options carries the optional service wiring for the HTTP surface.
type Options struct {
	// Backups enables the backup trigger and health endpoints when set.
	Backups *backup.Service
	// Notifier emits cross-process change events on settings writes and
	// snapshot imports when set.
	Notifier *notify.EventWriter
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server over the given storage
// engine. It returns the actual address being listened on (useful for
// testing with port 0) and the WebSocketHub for wiring event broadcasts.
func Start(ctx context.Context, cfg *config.Config, store storage.Storage, opts Options) (string, *handlers.WebSocketHub) {
	repos := repo.New(store)
	settingsStore := settings.NewStore(store)

	wsHub := handlers.NewWebSocketHub(cfg.Server.Port)
	go wsHub.Run()

	// 10 req/sec sustained, burst of 20
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	characterHandlers := handlers.NewCharacterHandlers(repos)
	chatHandlers := handlers.NewChatHandlers(repos)
	socialHandlers := handlers.NewSocialHandlers(repos)
	memoryHandlers := handlers.NewMemoryHandlers(store)
	settingsHandlers := handlers.NewSettingsHandlers(settingsStore, opts.Notifier)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(store, opts.Backups, opts.Notifier)
	statsHandlers := handlers.NewStatsHandlers(store)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("GET /api/characters", characterHandlers.List)
	apiMux.HandleFunc("POST /api/characters", characterHandlers.Create)
	apiMux.HandleFunc("GET /api/characters/{id}", characterHandlers.Get)
	apiMux.HandleFunc("PATCH /api/characters/{id}", characterHandlers.Update)
	apiMux.HandleFunc("DELETE /api/characters/{id}", characterHandlers.Delete)

	apiMux.HandleFunc("GET /api/chats", chatHandlers.List)
	apiMux.HandleFunc("POST /api/chats", chatHandlers.Create)
	apiMux.HandleFunc("GET /api/chats/{id}", chatHandlers.Get)
	apiMux.HandleFunc("PATCH /api/chats/{id}", chatHandlers.Rename)
	apiMux.HandleFunc("DELETE /api/chats/{id}", chatHandlers.Delete)
	apiMux.HandleFunc("GET /api/chats/{id}/messages", chatHandlers.Messages)
	apiMux.HandleFunc("POST /api/chats/{id}/messages", chatHandlers.Append)

	apiMux.HandleFunc("GET /api/dms", socialHandlers.ListDMs)
	apiMux.HandleFunc("POST /api/dms", socialHandlers.CreateDM)
	apiMux.HandleFunc("GET /api/dms/{id}/messages", socialHandlers.DMMessages)
	apiMux.HandleFunc("POST /api/dms/{id}/messages", socialHandlers.SendDM)
	apiMux.HandleFunc("DELETE /api/dms/{id}", socialHandlers.DeleteDM)

	apiMux.HandleFunc("GET /api/posts", socialHandlers.Feed)
	apiMux.HandleFunc("POST /api/posts", socialHandlers.CreatePost)
	apiMux.HandleFunc("POST /api/posts/{id}/like", socialHandlers.LikePost)
	apiMux.HandleFunc("DELETE /api/posts/{id}", socialHandlers.DeletePost)

	apiMux.HandleFunc("GET /api/assets", socialHandlers.ListAssets)
	apiMux.HandleFunc("POST /api/assets", socialHandlers.CreateAsset)
	apiMux.HandleFunc("DELETE /api/assets/{id}", socialHandlers.DeleteAsset)

	apiMux.HandleFunc("GET /api/memories", memoryHandlers.List)
	apiMux.HandleFunc("POST /api/memories", memoryHandlers.Create)
	apiMux.HandleFunc("DELETE /api/memories/{id}", memoryHandlers.Delete)
	apiMux.HandleFunc("POST /api/memories/search", memoryHandlers.Search)

	apiMux.HandleFunc("GET /api/settings", settingsHandlers.Keys)
	apiMux.HandleFunc("GET /api/settings/{key}", settingsHandlers.Get)
	apiMux.HandleFunc("PUT /api/settings/{key}", settingsHandlers.Put)
	apiMux.HandleFunc("DELETE /api/settings/{key}", settingsHandlers.Delete)

	apiMux.HandleFunc("POST /api/maintenance/compact", maintenanceHandlers.Compact)
	apiMux.HandleFunc("GET /api/maintenance/export", maintenanceHandlers.Export)
	apiMux.HandleFunc("POST /api/maintenance/import", maintenanceHandlers.Import)
	apiMux.HandleFunc("POST /api/maintenance/backup", maintenanceHandlers.BackupNow)
	apiMux.HandleFunc("GET /api/maintenance/backup", maintenanceHandlers.BackupHealth)

	apiMux.HandleFunc("GET /api/stats", statsHandlers.Get)

	mux := http.NewServeMux()

	// Health endpoint, no auth required, used by monitoring
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","engine":%q}`, store.Engine())
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required, origin validation handles security)
	mux.Handle("/ws", wsHub)

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("server: failed to listen on %s: %v", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: %v", err)
		}
	}()

	// Graceful shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub
}
