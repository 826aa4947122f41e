package auth

import "context"

type contextKey string

// ClaimsKey locates validated session claims in a request context.
const ClaimsKey contextKey = "session-claims"

// ClaimsFromContext returns the validated claims set by the middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}
