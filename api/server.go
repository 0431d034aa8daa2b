// Package api is the HTTP surface: request parsing, shape validation, rate
// limiting, signature checks, delegation to the store and engines, and the
// uniform error envelope. One audit row is emitted per write request,
// accepted or rejected.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/profile"
	"github.com/kredo-protocol/kredo/ratelimit"
	"github.com/kredo-protocol/kredo/store"
	"github.com/kredo-protocol/kredo/taxonomy"
	"github.com/kredo-protocol/kredo/trust"
)

// Server wires the HTTP handlers to the domain components.
type Server struct {
	cfg      Config
	log      *zap.Logger
	store    *store.Store
	engine   *trust.Engine
	profiles *profile.Assembler
	registry *taxonomy.Registry
	limiter  *ratelimit.Limiter
	metrics  *metrics
}

// NewServer builds the full component graph over an open store.
func NewServer(cfg Config, log *zap.Logger, st *store.Store) (*Server, error) {
	rules := ratelimit.DefaultRules()
	if err := ratelimit.ApplyOverrides(rules, cfg.RateLimitsJSON); err != nil {
		return nil, err
	}
	registry, err := taxonomy.NewRegistry(st)
	if err != nil {
		return nil, err
	}
	engine := trust.NewEngine(st, cfg.TrustCacheTTL())
	return &Server{
		cfg:      cfg,
		log:      log,
		store:    st,
		engine:   engine,
		profiles: profile.NewAssembler(st, engine),
		registry: registry,
		limiter:  ratelimit.New(ratelimit.NewMemoryBackend(), rules),
		metrics:  newMetrics(),
	}, nil
}

// Router assembles the chi mux with the full endpoint surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors(s.cfg.CORSAllowOrigins))
	r.Use(bodyLimit(s.cfg.MaxBodyBytes))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Post("/register", s.handleRegister)
	r.Post("/register/update", s.handleRegisterUpdate)
	r.Get("/agents", s.handleListAgents)
	r.Get("/agents/{pubkey}", s.handleGetAgent)
	r.Get("/agents/{pubkey}/profile", s.handleGetProfile)

	r.Post("/attestations", s.handleSubmitAttestation)
	r.Get("/attestations/{id}", s.handleGetAttestation)
	r.Post("/verify", s.handleVerify)
	r.Get("/search", s.handleSearch)
	r.Post("/revoke", s.handleRevoke)
	r.Post("/dispute", s.handleDispute)

	r.Route("/trust", func(r chi.Router) {
		r.Get("/who-attested/{pubkey}", s.handleWhoAttested)
		r.Get("/attested-by/{pubkey}", s.handleAttestedBy)
		r.Get("/analysis/{pubkey}", s.handleTrustAnalysis)
		r.Get("/rings", s.handleRings)
		r.Get("/network-health", s.handleNetworkHealth)
	})

	r.Route("/ownership", func(r chi.Router) {
		r.Post("/claim", s.handleOwnershipClaim)
		r.Post("/confirm", s.handleOwnershipConfirm)
		r.Post("/revoke", s.handleOwnershipRevoke)
		r.Get("/agent/{pubkey}", s.handleOwnershipHistory)
	})

	r.Route("/integrity", func(r chi.Router) {
		r.Post("/baseline/set", s.handleSetBaseline)
		r.Post("/check", s.handleIntegrityCheck)
		r.Get("/status/{pubkey}", s.handleIntegrityStatus)
	})

	r.Route("/taxonomy", func(r chi.Router) {
		r.Get("/", s.handleTaxonomy)
		r.Get("/{domain}", s.handleTaxonomyDomain)
		r.Post("/domains", s.handleCreateDomain)
		r.Post("/domains/{domain}/skills", s.handleCreateSkill)
		r.Delete("/domains/{domain}", s.handleDeleteDomain)
		r.Delete("/domains/{domain}/skills/{skill}", s.handleDeleteSkill)
	})

	r.Get("/risk/source-anomalies", s.handleSourceAnomalies)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": model.KredoVersion,
	})
}

// allow applies the rate limit for a write and converts a rejection into the
// audited error path.
func (s *Server) allow(r *http.Request, action, key string) error {
	return s.limiter.Allow(r.Context(), action, key)
}

// audit records the outcome of a write request. Accepted writes are audited
// inside the store transaction; this path is for rejections.
func (s *Server) auditRejection(r *http.Request, action string, meta store.RequestMeta, err error) {
	s.metrics.recordWrite(action, model.OutcomeRejected)
	details := map[string]any{"error": string(model.KindOf(err))}
	if e, ok := err.(*model.Error); ok {
		details["message"] = e.Message
	}
	if auditErr := s.store.AppendAudit(r.Context(), action, model.OutcomeRejected, meta, details); auditErr != nil {
		s.log.Warn("audit rejection", zap.Error(auditErr))
	}
}
