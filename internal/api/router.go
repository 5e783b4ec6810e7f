package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alecgard/taskmate/internal/auth"
	"github.com/alecgard/taskmate/internal/metrics"
	"github.com/alecgard/taskmate/internal/ratelimit"
	"github.com/alecgard/taskmate/internal/team"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Teams          *team.Service
	Resolver       auth.Resolver
	CookieName     string
	Limiter        *ratelimit.Limiter // nil disables rate limiting
	Metrics        *metrics.Metrics   // nil disables metrics
	Store          Pinger             // nil when the store needs no health check
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(metricsMiddleware(deps.Metrics))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/health", healthHandler(deps.Store))
	r.Get("/.well-known/taskmate.json", WellKnownHandler)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	if deps.Teams == nil || deps.Resolver == nil {
		return r
	}

	teams := newTeamsHandler(deps.Teams)
	joins := newJoinRequestsHandler(deps.Teams)

	var onAuthFailure func(string)
	var onReject []func()
	if deps.Metrics != nil {
		onAuthFailure = deps.Metrics.IncAuthFailure
		onReject = append(onReject, deps.Metrics.IncRateLimitRejection)
	}

	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.Middleware(deps.Resolver, auth.MiddlewareOptions{
			CookieName: deps.CookieName,
			OnFailure:  onAuthFailure,
		}))
		ar.Use(recordUser)
		ar.Use(ratelimit.Middleware(deps.Limiter, onReject...))

		ar.Post("/teams", teams.CreateTeam)
		ar.Route("/teams/{teamKey}", func(tr chi.Router) {
			tr.Get("/", teams.SearchTeam)
			tr.Patch("/", teams.UpdateTeam)
			tr.Delete("/", teams.DeleteTeam)

			tr.Get("/members", teams.ListMembers)
			tr.Put("/members/{userID}/role", teams.SetMemberRole)

			tr.Post("/join-requests", joins.RequestJoin)
			tr.Get("/join-requests", joins.ListPending)
			tr.Post("/join-requests/{userID}/accept", joins.Accept)
			tr.Post("/join-requests/{userID}/decline", joins.Decline)
		})

		ar.Get("/me/teams", teams.MyTeams)
		ar.Get("/me/teams/admin", teams.MyAdminTeams)
		ar.Get("/me/teams/member", teams.MyMemberTeams)
		ar.Get("/me/join-requests", joins.MyRequests)

		if deps.Metrics != nil {
			ar.Get("/metrics/summary", deps.Metrics.Handler())
		}
	})

	return r
}

// healthHandler reports liveness and, when a store is wired, its reachability.
func healthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "ok"})
			return
		}
		if err := store.Ping(r.Context(), 2*time.Second); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "ok"})
	}
}
