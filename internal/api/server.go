// Package api wires the five services' HTTP surfaces into one chi router,
// adapted from the reference backend's own internal/api server composition.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/auth"
	"github.com/otcsettle/controlplane/internal/complianceattestor"
	"github.com/otcsettle/controlplane/internal/config"
	"github.com/otcsettle/controlplane/internal/docstore"
	"github.com/otcsettle/controlplane/internal/intentgateway"
	"github.com/otcsettle/controlplane/internal/kvstore"
	"github.com/otcsettle/controlplane/internal/orchestrator"
	"github.com/otcsettle/controlplane/internal/policysnapshot"
	"github.com/otcsettle/controlplane/internal/proofcoordinator"
)

// Services groups the five component services cmd/controlplane constructs,
// mirroring the reference backend's own *services.Services bundle.
type Services struct {
	PolicySnapshot     *policysnapshot.Service
	IntentGateway      *intentgateway.Service
	ComplianceAttestor *complianceattestor.Service
	ProofCoordinator   *proofcoordinator.Service
	Orchestrator       *orchestrator.Service
}

type Server struct {
	cfg config.Config
	log *zap.Logger
	doc *docstore.Store
	kv  *kvstore.Store

	Tokens auth.TokenManager
	Hasher auth.PasswordHasher

	svc Services

	httpServer *http.Server
}

func New(cfg config.Config, logger *zap.Logger, doc *docstore.Store, kv *kvstore.Store, svc Services) *Server {
	return &Server{
		cfg: cfg,
		log: logger,
		doc: doc,
		kv:  kv,
		Tokens: auth.TokenManager{
			Issuer:     cfg.JWTIssuer,
			Secret:     []byte(cfg.JWTSecret),
			AccessTTL:  cfg.JWTAccessTTL,
			RefreshTTL: cfg.JWTRefreshTTL,
		},
		Hasher: auth.DefaultPasswordHasher(),
		svc:    svc,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(Recoverer(s.log))
	r.Use(AccessLog(s.log))

	if s.cfg.CORSOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{s.cfg.CORSOrigin},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		// chi allows one Mount per pattern, so each service router's routes
		// are registered on v1 directly instead of mounted at "/".
		for _, sub := range []chi.Router{s.svc.PolicySnapshot.Router(), s.svc.IntentGateway.Router(),
			s.svc.ComplianceAttestor.Router(), s.svc.ProofCoordinator.Router(), s.svc.Orchestrator.Router()} {
			_ = chi.Walk(sub, func(method, route string, h http.Handler, mws ...func(http.Handler) http.Handler) error {
				v1.With(mws...).Method(method, route, h)
				return nil
			})
		}

		// Wallet-login handshake (SPEC_FULL.md §6 Expansion): operator
		// bearer-token auth, scoped to the two ProofCoordinator overrides.
		v1.Post("/proof-jobs/auth/login", s.handleLogin)
		v1.Post("/proof-jobs/auth/refresh", s.handleRefresh)
		v1.Group(func(pr chi.Router) {
			pr.Use(s.AuthMiddleware())
			pr.Post("/proof-jobs/{job_id}/retry", s.svc.ProofCoordinator.RetryHandler())
			pr.Post("/proof-jobs/{job_id}/status", s.svc.ProofCoordinator.UpdateStatusHandler())
		})
	})

	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Info("http server starting", zap.String("addr", s.cfg.HTTPAddr))
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctxShutdown)
	}()

	return s.httpServer.ListenAndServe()
}
