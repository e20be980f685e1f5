package server

import (
	"fmt"
	"net/http"

	apierrors "github.com/maruel/linkreview/internal/errors"
	"github.com/maruel/linkreview/internal/server/handlers"
	"github.com/maruel/linkreview/internal/server/ratelimit"
	"github.com/maruel/linkreview/internal/server/reqctx"
)

// IdentityMiddleware adds the client IP and the X-Username header to the
// request context. A missing username leaves the request anonymous.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := reqctx.WithClientIP(r.Context(), reqctx.GetClientIP(r))
		if user := reqctx.GetUsername(r); user != "" {
			ctx = reqctx.WithUsername(ctx, user)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqctx.Username(r.Context()) == "" {
			handlers.WriteError(w, apierrors.Unauthorized(reqctx.UsernameHeader+" header is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin ensures the caller is the admin user.
func RequireAdmin(admin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch reqctx.Username(r.Context()) {
			case "":
				handlers.WriteError(w, apierrors.Unauthorized(reqctx.UsernameHeader+" header is required"))
			case admin:
				next.ServeHTTP(w, r)
			default:
				handlers.WriteError(w, apierrors.Forbidden(fmt.Sprintf("Only user '%s' can do this", admin)))
			}
		})
	}
}

// RateLimitMiddleware applies the matching rate limit tier, keyed by username
// or by client IP for anonymous requests.
func RateLimitMiddleware(cfg *ratelimit.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := cfg.Match(r.Method, r.URL.Path)
			if tier == nil {
				next.ServeHTTP(w, r)
				return
			}
			scope, id := tier.Scope, reqctx.Username(r.Context())
			if id == "" {
				scope, id = ratelimit.ScopeIP, reqctx.ClientIP(r.Context())
			}
			result := tier.Limiter.Allow(ratelimit.BuildKey(scope, id, tier.Name))
			w = ratelimit.NewResponseWriter(w, result)
			if !result.Allowed {
				handlers.WriteError(w, apierrors.RateLimited().WithDetail("retry_after", int(result.RetryAfter.Seconds())))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
