package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/auth"
	"github.com/sakif/social-blog/internal/model"
)

// PrincipalLoader resolves a session's user ID into a principal.
// service.UserService satisfies it.
type PrincipalLoader interface {
	Principal(ctx context.Context, userID string) (*model.Principal, error)
	Ping(ctx context.Context, userID string) error
}

type principalKey struct{}

// LoadPrincipal runs after auth.OptionalAuth or auth.RequireAuth. It loads
// the authenticated user and role into the request context and records the
// visit in LastSeen. A session whose user no longer exists is treated as
// anonymous.
func LoadPrincipal(users PrincipalLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			p, err := users.Principal(r.Context(), userID)
			if errors.Is(err, apperror.ErrNotFound) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				logger.Error("loading principal", slog.String("userID", userID), slog.String("error", err.Error()))
				writeError(w, err)
				return
			}

			if err := users.Ping(r.Context(), userID); err != nil {
				logger.Warn("updating last_seen", slog.String("userID", userID), slog.String("error", err.Error()))
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller, or nil for an anonymous request.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey{}).(*model.Principal)
	return p
}

// requirePrincipal is for routes behind RequireAuth whose user may have been
// deleted since the token was issued.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return nil, false
	}
	return p, true
}
