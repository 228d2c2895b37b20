package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/concordhq/concord/internal/config"
	"github.com/concordhq/concord/internal/server"
	"github.com/concordhq/concord/internal/stats"
	"github.com/concordhq/concord/internal/store"
)

const StatMessagesCreated = "MessagesCreated"

type ConcordApp struct {
	log            *log.Logger
	db             store.Repository
	mux            *http.Server
	hub            *server.Hub
	stats          stats.Provider
	signingKey     []byte
	allowedOrigins []string
}

func NewConcordApp(mux *http.ServeMux, logger *log.Logger, hub *server.Hub, db store.Repository, st stats.Provider, cfg *config.Config) *ConcordApp {
	s := &ConcordApp{
		log:            logger,
		db:             db,
		hub:            hub,
		stats:          st,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	st.RegisterMetric(StatMessagesCreated)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.createMessage))
	mux.HandleFunc("PATCH /api/messages/{id}", s.authMiddleware(s.updateMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.HandleFunc("GET /api/servers", s.authMiddleware(s.listServers))
	mux.HandleFunc("GET /api/servers/{id}/channels", s.authMiddleware(s.listChannels))
	mux.HandleFunc("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.HandleFunc("PATCH /api/members/{id}", s.authMiddleware(s.updateMemberRole))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ConcordApp) generateShortId() (string, error) {
	return shortid.Generate()
}

func (s *ConcordApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ConcordApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
