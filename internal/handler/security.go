package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/xenking/course-voucher-engine/internal/domain/auth"
	"github.com/xenking/course-voucher-engine/internal/domain/condition"
	"github.com/xenking/course-voucher-engine/pkg/httpmiddleware"
)

type sourceKey struct{}

// sourceFromContext returns the redemption pathway derived from the
// authenticated API key. It is never taken from request data; an enterprise
// voucher therefore cannot be redeemed by spoofing a field.
func sourceFromContext(ctx context.Context) condition.Source {
	if src, ok := ctx.Value(sourceKey{}).(condition.Source); ok {
		return src
	}
	return condition.SourceCheckout
}

// SecurityHandler authenticates API keys and derives the request pathway
// from their scopes.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  string
}

// NewSecurityHandler constructs the API key middleware.
func NewSecurityHandler(apikeys auth.Repository, pepper string) *SecurityHandler {
	return &SecurityHandler{apikeys: apikeys, pepper: pepper}
}

// Middleware validates the api_key header against stored HMAC hashes and
// requires the given scope. Keys with the enterprise scope run downstream
// evaluation on the enterprise pathway.
func (s *SecurityHandler) Middleware(scope string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("api_key")
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing api key")
				return
			}

			hash := auth.HashKey(s.pepper, key)
			info, err := s.apikeys.FindByHash(r.Context(), hash)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}

			// Constant-time comparison guards against timing side-channels
			// even though the lookup already succeeded.
			if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}

			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden", "api key lacks required scope")
				return
			}

			src := condition.SourceCheckout
			if info.HasScope(auth.ScopeEnterprise) {
				src = condition.SourceEnterprise
			}
			ctx := context.WithValue(r.Context(), sourceKey{}, src)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
