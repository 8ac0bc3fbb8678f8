package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KamisAyaka/solana-demos/api/handlers"
	"github.com/KamisAyaka/solana-demos/api/metrics"
	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	limiter *handlers.RateLimiter
	router  chi.Router
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sender, err := soltx.NewSender(soltx.SenderConfig{
		Logger: cfg.Logger,
		RPC:    cfg.RPC,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}
	vote, err := handlers.NewVoteHandler(handlers.VoteConfig{
		Logger:     cfg.Logger,
		Sender:     sender,
		ProgramID:  cfg.VotingProgramID,
		PollID:     cfg.PollID,
		Candidates: cfg.Candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vote handler: %w", err)
	}

	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: handlers.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Blink clients fetch actions cross-origin; preflights reach the
	// handlers so OPTIONS returns the action metadata.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:     []string{"*"},
			AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:     []string{"Content-Type", "Authorization", "Content-Encoding", "Accept-Encoding", "X-Accept-Action-Version", "X-Accept-Blockchain-Ids"},
			ExposedHeaders:     []string{"X-Action-Version", "X-Blockchain-Ids"},
			OptionsPassthrough: true,
		}))
		r.Use(handlers.ActionHeaders(cfg.ChainID))

		r.Get("/actions.json", handlers.GetActionsJSON)
		r.Route("/api", func(r chi.Router) {
			r.Use(handlers.RateLimitMiddleware(s.limiter))
			r.Get("/vote", vote.GetMetadata)
			r.Options("/vote", vote.GetMetadata)
			r.Post("/vote", vote.Post)
		})
	})
	s.router = r

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	defer s.limiter.Stop()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

// readyzHandler reports ready once the RPC node answers getHealth with ok;
// vote POSTs cannot be served without a blockhash.
func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	start := time.Now()
	health, err := s.cfg.RPC.GetHealth(ctx)
	metrics.RecordRPCRequest("getHealth", time.Since(start), err)
	if err != nil || health != "ok" {
		s.log.Debug("readyz: rpc not healthy", "health", health, "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("rpc not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("failed to write version response", "error", err)
	}
}
