package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/srtrelay/internal/api/models"
	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/logging"
	"github.com/smazurov/srtrelay/internal/media"
	"github.com/smazurov/srtrelay/internal/preview"
	"github.com/smazurov/srtrelay/internal/relay"
	"github.com/smazurov/srtrelay/internal/router"
	"github.com/smazurov/srtrelay/internal/srtstats"
	"github.com/smazurov/srtrelay/internal/supervisor"
)

type fakeRelay struct {
	status    relay.Status
	report    *srtstats.Report
	sampledAt time.Time
}

func (f *fakeRelay) Status() relay.Status { return f.status }

func (f *fakeRelay) LastReport() (*srtstats.Report, time.Time, bool) {
	return f.report, f.sampledAt, f.report != nil
}

type fakePreview struct {
	answer string
	err    error
	offer  string
}

func (f *fakePreview) CreateConsumer(offer string) (string, error) {
	f.offer = offer
	return f.answer, f.err
}

type fakeService struct {
	active, sub string
	err         error
}

func (fakeService) Unit() string { return "srtrelay.service" }

func (f fakeService) ServiceStatus(context.Context) (string, string, error) {
	return f.active, f.sub, f.err
}

func newTestServer(t *testing.T, opts *Options) *httptest.Server {
	t.Helper()
	if opts.Relay == nil {
		opts.Relay = &fakeRelay{status: relay.Status{State: supervisor.StatePlaying}}
	}
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &Options{})

	var body models.HealthData
	if code := get(t, ts.URL+"/api/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Status != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestStats(t *testing.T) {
	addr := "192.0.2.10:50000"
	sampled := time.Date(2025, 1, 27, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		relay     *fakeRelay
		available bool
		callers   int
	}{
		{"before first sample", &fakeRelay{}, false, 0},
		{"with report", &fakeRelay{
			report: &srtstats.Report{
				Callers:            []srtstats.ConnectionStats{{PacketsReceived: 10, CallerAddress: &addr}},
				BytesReceivedTotal: 4096,
			},
			sampledAt: sampled,
		}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &Options{Relay: tt.relay})

			var body models.StatsData
			if code := get(t, ts.URL+"/api/stats", &body); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if body.Available != tt.available {
				t.Errorf("available = %v", body.Available)
			}
			if !tt.available {
				if body.Report != nil {
					t.Errorf("report = %+v", body.Report)
				}
				return
			}
			if len(body.Report.Callers) != tt.callers || body.Report.BytesReceivedTotal != 4096 {
				t.Errorf("report = %+v", body.Report)
			}
			if !body.SampledAt.Equal(sampled) {
				t.Errorf("sampled_at = %v", body.SampledAt)
			}
		})
	}
}

func TestPipelineAndRoutes(t *testing.T) {
	fr := &fakeRelay{status: relay.Status{
		State:   supervisor.StateError,
		Element: "rtmpsink",
		Error:   "rtmpsink: connection refused",
		Routes: []router.SlotStatus{
			{Slot: router.SlotVideo, Prefix: "video/x-h264", Input: "multiqueue:sink_0", Bound: true, Tag: "video/x-h264"},
			{Slot: router.SlotAudio, Prefix: "audio/mpeg", Input: "multiqueue:sink_1"},
		},
	}}
	ts := newTestServer(t, &Options{Relay: fr})

	var status relay.Status
	if code := get(t, ts.URL+"/api/pipeline", &status); code != http.StatusOK {
		t.Fatalf("pipeline status = %d", code)
	}
	if status.State != supervisor.StateError || status.Element != "rtmpsink" {
		t.Errorf("pipeline = %+v", status)
	}

	var routes models.RoutesData
	if code := get(t, ts.URL+"/api/routes", &routes); code != http.StatusOK {
		t.Fatalf("routes status = %d", code)
	}
	if len(routes.Routes) != 2 || !routes.Routes[0].Bound || routes.Routes[1].Bound {
		t.Errorf("routes = %+v", routes.Routes)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, &Options{AuthUsername: "admin", AuthPassword: "secret"})
	creds := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is open", "/api/health", "", http.StatusOK},
		{"missing credentials", "/api/pipeline", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/pipeline", "Bearer abc", http.StatusUnauthorized},
		{"wrong password", "/api/pipeline", "Basic " + creds("admin:nope"), http.StatusUnauthorized},
		{"no separator", "/api/pipeline", "Basic " + creds("admin"), http.StatusUnauthorized},
		{"valid header", "/api/pipeline", "Basic " + creds("admin:secret"), http.StatusOK},
		{"valid query", "/api/pipeline?auth=" + creds("admin:secret"), "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
		})
	}
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t, &Options{})
	logging.GetBuffer().Write(logging.LogEntry{
		Timestamp: time.Now(),
		Level:     "warn",
		Module:    "router",
		Message:   "stream already bound",
	})

	var body models.LogsData
	if code := get(t, ts.URL+"/api/logs?limit=1", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 1 || body.Entries[0].Message != "stream already bound" {
		t.Errorf("logs = %+v", body)
	}

	if code := get(t, ts.URL+"/api/logs?limit=0", nil); code != http.StatusUnprocessableEntity {
		t.Errorf("limit=0 status = %d", code)
	}
}

func TestServiceStatus(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, &Options{})
		if code := get(t, ts.URL+"/api/service", nil); code != http.StatusNotFound {
			t.Errorf("status = %d", code)
		}
	})
	t.Run("active", func(t *testing.T) {
		ts := newTestServer(t, &Options{Service: fakeService{active: "active", sub: "running"}})
		var body models.ServiceStatus
		if code := get(t, ts.URL+"/api/service", &body); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if body.Unit != "srtrelay.service" || body.ActiveState != "active" || body.SubState != "running" {
			t.Errorf("body = %+v", body)
		}
	})
	t.Run("dbus failure", func(t *testing.T) {
		ts := newTestServer(t, &Options{Service: fakeService{err: errors.New("no bus")}})
		if code := get(t, ts.URL+"/api/service", nil); code != http.StatusInternalServerError {
			t.Errorf("status = %d", code)
		}
	})
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name    string
		preview *fakePreview
		want    int
	}{
		{"answer", &fakePreview{answer: "v=0\r\no=- answer"}, http.StatusOK},
		{"nothing relayed", &fakePreview{err: media.ErrNoPublisher}, http.StatusNotFound},
		{"no common codec", &fakePreview{err: preview.ErrNoTracks}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &Options{Preview: tt.preview})

			resp, err := http.Post(ts.URL+"/api/preview", "application/sdp", strings.NewReader("v=0\r\no=- offer"))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.preview.offer != "v=0\r\no=- offer" {
				t.Errorf("offer = %q", tt.preview.offer)
			}
			if tt.want != http.StatusOK {
				return
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/sdp" {
				t.Errorf("content type = %q", ct)
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.preview.answer {
				t.Errorf("answer = %q", body)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "srtrelay_srt_callers 1\n")
	})
	ts := newTestServer(t, &Options{AuthUsername: "admin", AuthPassword: "secret", PrometheusHandler: handler})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "srtrelay_srt_callers 1") {
		t.Errorf("status = %d body = %q", resp.StatusCode, body)
	}
}

func TestPreviewPage(t *testing.T) {
	ts := newTestServer(t, &Options{Relay: &fakeRelay{}})

	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/", http.StatusOK, "srtrelay preview"},
		{"/preview.js", http.StatusOK, "api/preview"},
		{"/dashboard", http.StatusOK, "srtrelay preview"},
		{"/api/unknown", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body missing %q", tt.want)
			}
		})
	}
}

// readEvents returns the SSE event names read from body.
func readEvents(body io.Reader) <-chan string {
	names := make(chan string, 16)
	go func() {
		defer close(names)
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				names <- name
			}
		}
	}()
	return names
}

func TestEventStream(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, &Options{EventBus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	names := readEvents(resp.Body)
	expect := func(want string) {
		t.Helper()
		select {
		case got := <-names:
			if got != want {
				t.Fatalf("event = %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s event", want)
		}
	}

	// The current state is sent on connect, after the subscriptions exist.
	expect("pipeline-state")
	bus.Publish(events.RouteBoundEvent{Slot: "video", Tag: "video/x-h264", Pad: "tsdemux:video_0100"})
	expect("route-bound")
}

func TestCORSAllowlist(t *testing.T) {
	ts := newTestServer(t, &Options{Preview: &fakePreview{answer: "v=0"}})

	tests := []struct {
		name    string
		method  string
		path    string
		status  int
		origin  string
		methods string
	}{
		{"telemetry read", http.MethodGet, "/api/stats", http.StatusOK, "*", ""},
		{"preview preflight", http.MethodOptions, "/api/preview", http.StatusNoContent, "*", "POST, OPTIONS"},
		{"telemetry preflight", http.MethodOptions, "/api/stats", http.StatusNoContent, "*", "GET, OPTIONS"},
		{"stream preflight", http.MethodOptions, "/api/events", http.StatusNoContent, "*", "GET, OPTIONS"},
		{"unknown api path", http.MethodOptions, "/api/nope", http.StatusNotFound, "", ""},
		{"metrics stay same-origin", http.MethodOptions, "/metrics", 0, "", ""},
		{"page stays same-origin", http.MethodGet, "/", 0, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("Origin", "http://dashboard.example")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if tt.status != 0 && resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.origin {
				t.Errorf("allow origin = %q, want %q", got, tt.origin)
			}
			if got := resp.Header.Get("Access-Control-Allow-Methods"); got != tt.methods {
				t.Errorf("allow methods = %q, want %q", got, tt.methods)
			}
		})
	}
}

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"no credentials", "limit=5", "limit=5"},
		{"credentials", "auth=YWRtaW46c2VjcmV0", "auth=REDACTED"},
		{"credentials among others", "limit=5&auth=YWRtaW46c2VjcmV0", "auth=REDACTED&limit=5"},
		{"unparsable with credentials", "auth=%zz", "[unparsable]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactQuery(tt.raw); got != tt.want {
				t.Errorf("redactQuery(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// waitForLog polls the log buffer for an entry with message whose
// attributes satisfy match.
func waitForLog(t *testing.T, message string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range logging.GetBuffer().ReadAll() {
			if e.Message == message && match(e.Attributes) {
				return e.Attributes
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %q log entry", message)
	return nil
}

func TestRequestLoggerTagsAuthFailures(t *testing.T) {
	ts := newTestServer(t, &Options{AuthUsername: "admin", AuthPassword: "secret"})
	bad := base64.StdEncoding.EncodeToString([]byte("admin:nope"))

	if code := get(t, ts.URL+"/api/routes?auth="+bad, nil); code != http.StatusUnauthorized {
		t.Fatalf("status = %d", code)
	}

	attrs := waitForLog(t, "HTTP request unauthorized", func(a map[string]any) bool {
		return a["path"] == "/api/routes"
	})
	if attrs["auth_failed"] != true {
		t.Errorf("auth_failed = %v", attrs["auth_failed"])
	}
	if attrs["operation"] != "get-routes" {
		t.Errorf("operation = %v", attrs["operation"])
	}
	if attrs["query"] != "auth=REDACTED" {
		t.Errorf("query = %v, credentials must not be logged", attrs["query"])
	}
}

func TestRequestLoggerTagsEventStreams(t *testing.T) {
	ts := newTestServer(t, &Options{})

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-readEvents(resp.Body):
	case <-time.After(2 * time.Second):
		t.Fatal("no initial event")
	}
	cancel()
	resp.Body.Close()

	attrs := waitForLog(t, "SSE stream closed", func(a map[string]any) bool {
		return a["operation"] == "events-stream"
	})
	if attrs["sse"] != true {
		t.Errorf("sse = %v", attrs["sse"])
	}
}
