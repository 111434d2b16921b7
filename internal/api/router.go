// Package api serves the HTTP/JSON surface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/telemetry"
)

// HandlerFunc is a route handler with bound path parameters.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string)

type route struct {
	method   string
	segments []string
	auth     bool
	handler  HandlerFunc
}

// Router matches requests against a fixed route table. A pattern
// segment of the form :name binds the path segment under that name.
// Routes marked auth require the configured API key; when no key is
// configured those routes are open.
type Router struct {
	routes []route
	apiKey func() string
}

func NewRouter(apiKey func() string) *Router {
	return &Router{apiKey: apiKey}
}

// Handle registers a route.
func (rt *Router) Handle(method, pattern string, auth bool, h HandlerFunc) {
	rt.routes = append(rt.routes, route{
		method:   method,
		segments: splitPath(pattern),
		auth:     auth,
		handler:  h,
	})
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// statusRecorder captures the status code for logging and counters.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Interface("panic", p).
				Str("requestId", requestID).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			writeError(rec, http.StatusInternalServerError, "Internal server error")
		}
		telemetry.HTTPRequestsTotal.WithLabelValues(r.Method, statusLabel(rec.status)).Inc()
		log.Debug().
			Str("requestId", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}()

	h := rec.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

	if r.Method == http.MethodOptions {
		rec.WriteHeader(http.StatusNoContent)
		return
	}

	segments := splitPath(r.URL.Path)
	pathMatched := false
	for _, rtw := range rt.routes {
		params, ok := match(rtw.segments, segments)
		if !ok {
			continue
		}
		pathMatched = true
		if rtw.method != r.Method {
			continue
		}
		if rtw.auth && !rt.authorized(r) {
			writeError(rec, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		rtw.handler(rec, r, params)
		return
	}

	if pathMatched {
		writeError(rec, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeError(rec, http.StatusNotFound, "Not found")
}

// match binds pattern segments to path segments. Both must have the
// same number of non-empty segments.
func match(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}

// authorized accepts the key via X-API-Key, Authorization: Bearer, or
// the api_key query parameter. An empty configured key disables auth.
func (rt *Router) authorized(r *http.Request) bool {
	key := rt.apiKey()
	if key == "" {
		return true
	}
	candidates := []string{
		r.Header.Get("X-API-Key"),
		strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		r.URL.Query().Get("api_key"),
	}
	for _, c := range candidates {
		if c != "" && subtle.ConstantTimeCompare([]byte(c), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("encode response")
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}
