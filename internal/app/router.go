package app

import (
	"net/http"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/crewdeck/crewdeck/internal/companies"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/identity"
	"github.com/crewdeck/crewdeck/internal/invites"
	"github.com/crewdeck/crewdeck/internal/notify"
	"github.com/crewdeck/crewdeck/internal/projects"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(pool *pgxpool.Pool, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(identity.Middleware(cfg.IdPJWTSecret))

	resolver := authz.NewResolver(pool)
	auditor := audit.NewWriter(pool)
	auditReader := audit.NewReader(pool)

	mailer := notify.NewMailer(cfg.EmailAPIURL, cfg.EmailTimeoutMS)

	companySvc := companies.NewService(pool)
	projectSvc := projects.NewService(pool)
	inviteSvc := invites.NewService(pool, mailer, cfg.BaseURL, cfg.InviteTTLDays)

	// Health check routes (no authentication required)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(pool))

	// Caller's own resolved permissions
	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(identity.RequireAuth)
		r.Use(authz.Gateway(resolver))

		r.Get("/permissions", authz.HandleMyPermissions())
		r.Get("/companies", companies.HandleListMine(companySvc))
		r.Get("/projects", projects.HandleListMine(projectSvc))
	})

	// Companies and everything scoped under them
	r.Route("/api/v1/companies", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(identity.RequireAuth)
		r.Use(authz.Gateway(resolver))

		r.With(authz.RequireSuperAdmin).Post("/", companies.HandleCreate(companySvc, auditor))
		r.Get("/", companies.HandleList(companySvc))
		r.Get("/{company_id}", companies.HandleGet(companySvc))

		// Members
		r.Get("/{company_id}/members", companies.HandleListMembers(companySvc))
		r.Post("/{company_id}/members", companies.HandleAddMember(companySvc, auditor))
		r.Delete("/{company_id}/members/{user_id}", companies.HandleDeactivateMember(companySvc, auditor))

		// Subscription
		r.Get("/{company_id}/subscription", companies.HandleGetSubscription(companySvc))
		r.Put("/{company_id}/subscription", companies.HandleUpdateSeats(companySvc, auditor))

		// Projects under a company
		r.Post("/{company_id}/projects", projects.HandleCreate(projectSvc, auditor))
		r.Get("/{company_id}/projects", projects.HandleListByCompany(projectSvc))

		// Invitations
		r.With(InviteRateLimitMiddleware(cfg.RateLimitRPM)).Post("/{company_id}/invites", invites.HandleCreate(inviteSvc, auditor))
		r.Get("/{company_id}/invites", invites.HandleList(inviteSvc))
		r.Post("/{company_id}/invites/{invite_id}/resend", invites.HandleResend(inviteSvc, auditor))
		r.Delete("/{company_id}/invites/{invite_id}", invites.HandleCancel(inviteSvc, auditor))

		// Audit log
		r.Get("/{company_id}/audit", audit.HandleListByCompany(auditReader))
	})

	// Projects addressed directly
	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(identity.RequireAuth)
		r.Use(authz.Gateway(resolver))

		r.Get("/{project_id}", projects.HandleGet(projectSvc))
		r.Put("/{project_id}/status", projects.HandleUpdateStatus(projectSvc))
		r.Post("/{project_id}/members", projects.HandleAssignMember(projectSvc, auditor))
		r.Get("/{project_id}/members", projects.HandleListMembers(projectSvc))
	})

	// Invitation redemption: authenticated but not permission-gated, and rate
	// limited against token guessing.
	r.Route("/api/v1/invites", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(identity.RequireAuth)
		r.Use(InviteRateLimitMiddleware(cfg.RateLimitRPM))

		r.Post("/accept", invites.HandleAccept(inviteSvc, auditor))
		r.Post("/decline", invites.HandleDecline(inviteSvc, auditor))
	})

	return r
}

// handleHealthz returns a simple liveness check
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz returns a readiness check that includes database connectivity
func handleReadyz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}
