// Package api serves the relay telemetry over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/srtrelay/internal/api/models"
	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/logging"
	"github.com/smazurov/srtrelay/internal/relay"
	"github.com/smazurov/srtrelay/internal/srtstats"
	"github.com/smazurov/srtrelay/internal/version"
	"github.com/smazurov/srtrelay/ui"
)

// Relay is the view of the running relay served by the API.
type Relay interface {
	Status() relay.Status
	LastReport() (*srtstats.Report, time.Time, bool)
}

// Previewer answers WebRTC preview offers.
type Previewer interface {
	CreateConsumer(offer string) (string, error)
}

// ServiceStatusProvider reports the systemd state of the relay unit.
type ServiceStatusProvider interface {
	Unit() string
	ServiceStatus(ctx context.Context) (active, sub string, err error)
}

// Options configures the API server. Preview, Service and
// PrometheusHandler are optional.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Relay             Relay
	Preview           Previewer
	Service           ServiceStatusProvider
	EventBus          *events.Bus
	PrometheusHandler http.Handler
}

// Server is the telemetry API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	eventBus   *events.Bus
	logger     *slog.Logger
}

var (
	errAuthRequired   = errors.New("authentication required")
	errAuthType       = errors.New("invalid authentication type")
	errAuthFormat     = errors.New("invalid credentials format")
	errAuthCredential = errors.New("invalid credentials")
)

// basicCredentials reads user:password from the Authorization header, or
// from the base64 "auth" query parameter EventSource clients have to use.
func basicCredentials(ctx huma.Context) (user, password string, err error) {
	var encoded string
	if header := ctx.Header("Authorization"); header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", "", errAuthType
		}
		encoded = header[len(prefix):]
	} else {
		encoded = ctx.Query("auth")
	}
	if encoded == "" {
		return "", "", errAuthRequired
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", errAuthFormat
	}
	user, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", errAuthFormat
	}
	return user, password, nil
}

// basicAuthMiddleware rejects requests to operations that carry a security
// requirement unless they present the configured credentials.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		user, pass, err := basicCredentials(ctx)
		if err == nil && (subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1) {
			err = errAuthCredential
		}
		if err != nil {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="srtrelay"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, err.Error())
			return
		}
		next(ctx)
	}
}

// NewServer creates the API server with Huma v2 on Go native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	addPreflightHandler(mux)

	config := huma.DefaultConfig("srtrelay API", version.Get().Version)
	config.Info.Description = "Telemetry of the SRT to RTMP relay"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	bus := opts.EventBus
	if bus == nil {
		bus = events.New()
	}
	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		eventBus: bus,
		logger:   logging.GetLogger("telemetry"),
	}

	api.UseMiddleware(corsMiddleware)
	api.UseMiddleware(requestLogger)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Scrapers do not authenticate.
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	if page, err := ui.Handler(); err == nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				http.NotFound(w, r)
				return
			}
			page.ServeHTTP(w, r)
		})
	}
	return server
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerRelayRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
	s.registerStatsStreamRoutes()
	s.registerSystemdRoutes()
	s.registerPreviewRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
