package obs

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Surfaces group routes for metric labels.
const (
	SurfaceSession = "session"
	SurfaceStream  = "stream"
	SurfaceOps     = "ops"
)

// Route is what the router matched for a request. It is only complete once the
// request has been routed, so middleware reads it after calling next.
type Route struct {
	Pattern   string
	SessionID string
	Surface   string
}

// RouteOf reads the matched chi route. Unmatched requests get the "unmatched" pattern
// so raw paths never reach metric labels.
func RouteOf(r *http.Request) Route {
	route := Route{Pattern: "unmatched", Surface: SurfaceOps}
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return route
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		route.Pattern = strings.TrimSuffix(pattern, "/*")
		if route.Pattern == "" {
			route.Pattern = "/"
		}
	}
	route.SessionID = rc.URLParam("sessionID")
	route.Surface = surfaceOf(route.Pattern)
	return route
}

func surfaceOf(pattern string) string {
	switch {
	case strings.HasSuffix(pattern, "/stream"):
		return SurfaceStream
	case strings.Contains(pattern, "/sessions"):
		return SurfaceSession
	default:
		return SurfaceOps
	}
}
