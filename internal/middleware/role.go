package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// RoleFetcher возвращает роль пользователя по его идентификатору.
type RoleFetcher func(ctx context.Context, userID uuid.UUID) (model.Role, bool)

// RequireRoles пропускает запрос дальше, только если роль пользователя входит
// в список разрешённых. Middleware ставится после AuthMiddleware.
func RequireRoles(fetch RoleFetcher, roles ...model.Role) func(http.Handler) http.Handler {
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			role, ok := fetch(r.Context(), userID)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			if _, ok := allowed[role]; !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
