package api

import (
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

const (
	corsAllowHeaders = "Authorization, Content-Type, Last-Event-ID"
	corsMaxAge       = "600"
)

// corsRoutes lists the routes a browser on another origin may call and the
// method each accepts. Everything else, /metrics and the UI included, stays
// same-origin.
var corsRoutes = map[string]string{
	"/api/health":       http.MethodGet,
	"/api/version":      http.MethodGet,
	"/api/stats":        http.MethodGet,
	"/api/routes":       http.MethodGet,
	"/api/pipeline":     http.MethodGet,
	"/api/logs":         http.MethodGet,
	"/api/service":      http.MethodGet,
	"/api/stats/stream": http.MethodGet,
	"/api/logs/stream":  http.MethodGet,
	"/api/events":       http.MethodGet,
	"/api/preview":      http.MethodPost,
}

// corsMethods returns the Access-Control-Allow-Methods value for path.
func corsMethods(path string) (string, bool) {
	method, ok := corsRoutes[strings.TrimSuffix(path, "/")]
	if !ok {
		return "", false
	}
	return method + ", " + http.MethodOptions, true
}

// corsMiddleware marks responses of allowlisted operations as readable
// from any origin.
func corsMiddleware(ctx huma.Context, next func(huma.Context)) {
	path := ctx.URL().Path
	if op := ctx.Operation(); op != nil && op.Path != "" {
		path = op.Path
	}
	if _, ok := corsMethods(path); ok {
		ctx.SetHeader("Access-Control-Allow-Origin", "*")
	}
	next(ctx)
}

// addPreflightHandler answers OPTIONS for the allowlisted routes. Huma only
// routes the methods an operation declares, so preflights never reach it.
func addPreflightHandler(mux *http.ServeMux) {
	mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) {
		methods, ok := corsMethods(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		w.Header().Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}
