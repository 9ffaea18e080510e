package web

import (
	"net"
	"net/http"

	"github.com/JonMunkholm/amrglass/internal/audit"
)

// requestMetadata stores the client address and user agent in the request
// context so audit events can name who triggered them.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.ContextWithIPAddress(r.Context(), clientIP(r))
		ctx = audit.ContextWithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP returns r.RemoteAddr without its port. TrustedRealIP may already
// have replaced it with a bare address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
