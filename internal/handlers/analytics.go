package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/types"
)

// AnalyticsRouter registers the dashboard summary route.
func AnalyticsRouter(r chi.Router, analyticsService *services.AnalyticsService, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware, requireRole(types.RoleOfficer, types.RoleController)).
		Get("/", func(w http.ResponseWriter, r *http.Request) {
			account, _ := accountFromContext(r.Context())
			summary, err := analyticsService.Summary(r.Context(), account)
			if err != nil {
				writeServiceError(w, r, err, "no data", "failed to compute analytics")
				return
			}
			writeJSON(w, http.StatusOK, summary)
		})
}
