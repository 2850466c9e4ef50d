package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/auth"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

// TenantScope returns middleware that opens a tenant-scoped database
// connection for the authenticated identity and closes it when the handler
// returns. Must run after auth middleware.
func TenantScope(tenantCtx services.TenantContextFunc, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			userID, projectID, err := auth.Identity(r.Context())
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			scopedCtx, cleanup, err := tenantCtx(r.Context(), userID, projectID)
			if err != nil {
				logger.Error("Failed to open tenant scope",
					zap.String("user_id", userID.String()),
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				writeJSONError(w, http.StatusServiceUnavailable, "Database unavailable")
				return
			}
			defer cleanup()

			next(w, r.WithContext(scopedCtx))
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
