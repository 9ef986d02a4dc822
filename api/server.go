/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests, origins from CORS_ORIGINS

ROUTE GROUPS:
  /api/calendar/*       Calendar oracle
  /api/attendance/*     Daily and period ledger, lock-driven sync
  /api/subjects/*       Per-subject history, summary, policy evaluation
  /api/audit            Audit trail
  /api/discrepancies/*  Discrepancy detector
  /api/policies/*       Policy configuration
  /api/substitutions/*  Substitution resolver
  /api/roll-calls/*     Emergency roll calls
  /api/alerts/*         Absence alerts
  /api/admin/*          Manual batch triggers
  /api/scenarios/*      Demo data
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/calendar", func(r chi.Router) {
			r.Get("/", h.ListWorkingDays)
			r.Get("/{date}", h.GetCalendarDay)
			r.Put("/{date}", h.SaveCalendarDay)
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Route("/daily", func(r chi.Router) {
				r.Get("/", h.ListDaily)
				r.Post("/", h.MarkDaily)
				r.Post("/bulk", h.MarkDailyBulk)
				r.Get("/absentees", h.ListAbsentees)
				r.Patch("/{id}", h.UpdateDaily)
				r.Post("/{id}/lock", h.LockDaily)
				r.Post("/{id}/override", h.OverrideDaily)
			})
			r.Route("/period", func(r chi.Router) {
				r.Get("/", h.ListPeriod)
				r.Post("/", h.MarkPeriod)
				r.Patch("/{id}", h.UpdatePeriod)
				r.Post("/{id}/lock", h.LockPeriod)
				r.Post("/{id}/override", h.OverridePeriod)
			})
			r.Post("/approved-absences", h.ApplyApprovedAbsence)
			r.Post("/school-business", h.SyncSchoolBusiness)
		})

		r.Route("/subjects/{kind}/{id}", func(r chi.Router) {
			r.Get("/history", h.SubjectHistory)
			r.Get("/summary", h.SubjectSummary)
			r.Post("/evaluate", h.EvaluateSubject)
		})

		r.Get("/audit", h.ListAudit)

		r.Route("/discrepancies", func(r chi.Router) {
			r.Get("/", h.ListDiscrepancies)
			r.Post("/run", h.RunDiscrepancyCheck)
			r.Post("/{id}/resolve", h.ResolveDiscrepancy)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.SavePolicy)
		})

		r.Route("/substitutions", func(r chi.Router) {
			r.Get("/", h.ListSubstitutions)
			r.Post("/", h.CreateSubstitution)
			r.Get("/suggest", h.SuggestSubstitute)
			r.Get("/{id}", h.GetSubstitution)
			r.Post("/{id}/confirm", h.ConfirmSubstitution)
			r.Post("/{id}/reject", h.RejectSubstitution)
		})

		r.Route("/roll-calls", func(r chi.Router) {
			r.Post("/", h.InitiateRollCall)
			r.Get("/active", h.ActiveRollCalls)
			r.Get("/{id}", h.GetRollCall)
			r.Get("/{id}/summary", h.RollCallSummary)
			r.Put("/{id}/entries/{kind}/{person_id}", h.UpdateRollCallEntry)
			r.Post("/{id}/complete", h.CompleteRollCall)
		})

		r.Post("/alerts/absences", h.SendAbsenceAlerts)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/leave-sync", h.TriggerLeaveSync)
			r.Post("/discrepancy-check", h.RunDiscrepancyCheck)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
