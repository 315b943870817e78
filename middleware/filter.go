package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/identity"
)

// Authenticate resolves the bearer token of each request with f.
func Authenticate(f *identity.RequestFilter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := identity.WithClientIP(r.Context(), remoteIP(r))

			decision := f.Resolve(r.URL.Path, r.Header.Get("Authorization"))
			if decision.Principal != nil {
				ctx = identity.WithPrincipal(ctx, decision.Principal)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
