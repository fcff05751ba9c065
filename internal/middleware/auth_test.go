package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	userID := uuid.New()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != userID {
			t.Fatalf("user id from context = %s, want %s", id, userID)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, userID)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_TamperedCookieRejected(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")
	userID := uuid.New()

	w := httptest.NewRecorder()
	other.SetAuthCookie(w, userID)
	cookies := w.Result().Cookies()

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookies[0])

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireRoles(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	adminID := uuid.New()
	clientID := uuid.New()

	roles := map[uuid.UUID]model.Role{
		adminID:  model.RoleAdministrador,
		clientID: model.RoleCliente,
	}
	fetch := func(ctx context.Context, userID uuid.UUID) (model.Role, bool) {
		role, ok := roles[userID]
		return role, ok
	}

	handler := m.Middleware(
		RequireRoles(fetch, model.RoleAdministrador, model.RoleSoporte)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}),
		),
	)

	tests := []struct {
		name   string
		userID uuid.UUID
		want   int
	}{
		{"admin allowed", adminID, http.StatusNoContent},
		{"client forbidden", clientID, http.StatusForbidden},
		{"unknown user unauthorized", uuid.New(), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			m.SetAuthCookie(w, tt.userID)
			cookies := w.Result().Cookies()

			r := httptest.NewRequest(http.MethodPost, "/admin", nil)
			r.AddCookie(cookies[0])

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r)

			if rec.Result().StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.want)
			}
		})
	}
}
