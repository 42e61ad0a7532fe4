package admission

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"photoshare/gatekeeper/pkg/admission/engine"
)

// IdentifierFunc extracts the caller identifier from a request.
type IdentifierFunc func(r *http.Request) string

// RouteKeyFunc extracts the route key from a request.
type RouteKeyFunc func(r *http.Request) string

// MiddlewareOptions configures the HTTP middleware.
type MiddlewareOptions struct {
	// Manager runs the admission pipeline. Required.
	Manager *Manager

	// IdentityHeader names a header carrying an authenticated user id.
	// When present on a request, the identifier is "user:<value>".
	IdentityHeader string

	// TrustForwardedFor enables reading the client IP from the first hop of
	// X-Forwarded-For. Only enable behind a trusted proxy.
	TrustForwardedFor bool

	// IdentifierFn overrides the default identifier extraction.
	IdentifierFn IdentifierFunc

	// RouteKeyFn overrides the default route key extraction.
	RouteKeyFn RouteKeyFunc

	// RateLimitHeaders adds X-RateLimit-* headers to every response.
	RateLimitHeaders bool
}

// DefaultIdentifierFunc returns the standard identifier extraction: the
// identity header as "user:<id>" when present, otherwise the client IP as
// "ip:<addr>".
func DefaultIdentifierFunc(identityHeader string, trustXFF bool) IdentifierFunc {
	return func(r *http.Request) string {
		if identityHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(identityHeader)); v != "" {
				return "user:" + v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
					return "ip:" + ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return "ip:" + host
		}
		if r.RemoteAddr != "" {
			return "ip:" + r.RemoteAddr
		}
		return "ip:unknown"
	}
}

// DefaultRouteKeyFunc maps a request to its route key: the first path
// segment, lowercased. "/" maps to "root".
func DefaultRouteKeyFunc() RouteKeyFunc {
	return func(r *http.Request) string {
		path := strings.Trim(r.URL.Path, "/")
		if path == "" {
			return "root"
		}
		if i := strings.IndexByte(path, '/'); i >= 0 {
			path = path[:i]
		}
		return strings.ToLower(path)
	}
}

// Middleware wraps an http.Handler with admission control. Denied requests
// get a 429 with a Retry-After header and a JSON body; everything else passes
// through.
func Middleware(opts MiddlewareOptions) func(next http.Handler) http.Handler {
	if opts.IdentifierFn == nil {
		opts.IdentifierFn = DefaultIdentifierFunc(opts.IdentityHeader, opts.TrustForwardedFor)
	}
	if opts.RouteKeyFn == nil {
		opts.RouteKeyFn = DefaultRouteKeyFunc()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := opts.IdentifierFn(r)
			routeKey := opts.RouteKeyFn(r)

			dec := opts.Manager.Check(r.Context(), identifier, routeKey)

			if opts.RateLimitHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(dec.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
			}

			if !dec.Allowed {
				writeRejection(w, dec.Reason, dec.RetryAfterSeconds())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rejection is the 429 response body. The error field is the fixed literal
// gateways match on; the specific denial code travels in reason.
type rejection struct {
	Error             string `json:"error"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func writeRejection(w http.ResponseWriter, reason string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	body := rejection{
		Error:             engine.ReasonRateLimited,
		RetryAfterSeconds: retryAfter,
	}
	if reason != engine.ReasonRateLimited {
		body.Reason = reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(body)
}
