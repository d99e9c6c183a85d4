package ratelimit

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Identity headers and metadata keys read by the default principal hooks.
const (
	UserIDHeader   = "X-User-ID"
	UserIDMetadata = "x-user-id"
	// UserIDContextKey is the gin context key set by upstream auth middleware.
	UserIDContextKey = "userID"
)

var healthPaths = map[string]struct{}{
	"/health":  {},
	"/healthz": {},
	"/ping":    {},
	"/metrics": {},
	"/status":  {},
}

// IsHealthCheckRequest reports whether r targets a liveness, readiness or
// scrape endpoint. Those are never limited by default. Only the exact paths
// match, so application routes such as /orders/42/status stay limited.
func IsHealthCheckRequest(r *http.Request) bool {
	path := strings.ToLower(r.URL.Path)
	if strings.HasPrefix(path, "/.well-known/") {
		return true
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	_, ok := healthPaths[path]
	return ok
}

// UserIDFromRequest returns the caller identity carried by the request, or "".
func UserIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

// UserIDFromMetadata returns the first x-user-id value of the incoming gRPC
// metadata, or "".
func UserIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(UserIDMetadata)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
