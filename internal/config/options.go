package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/srtrelay/internal/logging"
)

// Passphrase length bounds accepted by SRT encryption.
const (
	MinPassphraseLen = 10
	MaxPassphraseLen = 80
)

// Options is the flat CLI / environment / TOML option set of the relay.
// Flag names derive from field names, env names are the bare `env` tags.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Required
	InputPort  int    `help:"SRT listen port" toml:"input_port" env:"INPUT_PORT"`
	OutputPort int    `help:"RTMP server port" toml:"output_port" env:"OUTPUT_PORT"`
	WebPort    int    `help:"Telemetry HTTP port" toml:"web_port" env:"WEB_PORT"`
	Passphrase string `help:"SRT passphrase (10-80 characters)" toml:"passphrase" env:"PASSPHRASE"`

	// RTMP output
	OutputHost   string `help:"RTMP server host" default:"127.0.0.1" toml:"output.host" env:"OUTPUT_HOST"`
	OutputApp    string `help:"RTMP application" default:"live" toml:"output.app" env:"OUTPUT_APP"`
	OutputStream string `help:"RTMP stream key" default:"stream" toml:"output.stream" env:"OUTPUT_STREAM"`
	OutputURL    string `help:"Full RTMP URL, overrides host/app/stream" toml:"output.url" env:"OUTPUT_URL"`

	// SRT listener
	SrtLatencyMs int `help:"SRT receiver latency in milliseconds" default:"120" toml:"srt.latency_ms" env:"SRT_LATENCY_MS"`
	SrtPbkeylen  int `help:"SRT key length in bytes (16, 24 or 32)" default:"32" toml:"srt.pbkeylen" env:"SRT_PBKEYLEN"`

	// Pipeline
	PipelineQueueCapacity int    `help:"Packets buffered per queue slot" default:"256" toml:"pipeline.queue_capacity" env:"PIPELINE_QUEUE_CAPACITY"`
	PipelineStatsInterval string `help:"SRT statistics sampling interval" default:"1s" toml:"pipeline.stats_interval" env:"PIPELINE_STATS_INTERVAL"`
	PipelineMuxWait       string `help:"Time the muxer waits for all inputs" default:"2s" toml:"pipeline.mux_wait" env:"PIPELINE_MUX_WAIT"`

	// Telemetry
	TelemetryPrometheusEnabled bool   `help:"Expose /metrics" default:"true" toml:"telemetry.prometheus_enabled" env:"TELEMETRY_PROMETHEUS_ENABLED"`
	TelemetryAuthUsername      string `help:"Basic auth username for the telemetry API, empty disables auth" toml:"telemetry.auth_username" env:"TELEMETRY_AUTH_USERNAME"`
	TelemetryAuthPassword      string `help:"Basic auth password for the telemetry API" toml:"telemetry.auth_password" env:"TELEMETRY_AUTH_PASSWORD"`
	TelemetryRelayName         string `help:"Relay name used in NATS subjects" default:"srtrelay" toml:"telemetry.relay_name" env:"TELEMETRY_RELAY_NAME"`
	TelemetryNatsURL           string `help:"NATS server that receives relay events, empty disables publishing" toml:"telemetry.nats_url" env:"TELEMETRY_NATS_URL"`
	TelemetryNatsListen        string `help:"Run an embedded NATS server on host:port" toml:"telemetry.nats_listen" env:"TELEMETRY_NATS_LISTEN"`
	SystemdUnit                string `help:"systemd unit reported by /api/service" default:"srtrelay.service" toml:"systemd.unit" env:"SYSTEMD_UNIT"`

	// Logging
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRouter     string `help:"Router logging level" default:"info" toml:"logging.router" env:"LOGGING_ROUTER"`
	LoggingSupervisor string `help:"Control loop logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingMedia      string `help:"Media elements logging level" default:"info" toml:"logging.media" env:"LOGGING_MEDIA"`
	LoggingTelemetry  string `help:"Telemetry API logging level" default:"info" toml:"logging.telemetry" env:"LOGGING_TELEMETRY"`
	LoggingPreview    string `help:"WebRTC preview logging level" default:"info" toml:"logging.preview" env:"LOGGING_PREVIEW"`
}

// Settings is the validated relay configuration.
type Settings struct {
	InputPort  uint16
	OutputPort uint16
	WebPort    uint16
	Passphrase string

	Output    OutputSettings
	SRT       SRTSettings
	Pipeline  PipelineSettings
	Telemetry TelemetrySettings
	Logging   logging.Config
}

// OutputSettings locates the RTMP publish endpoint.
type OutputSettings struct {
	Host   string
	App    string
	Stream string
	// URL, when set, replaces the URL built from Host, port, App and Stream.
	URL string
}

// SRTSettings configures the SRT listener.
type SRTSettings struct {
	Latency  time.Duration
	PBKeyLen int
}

// PipelineSettings tunes the media graph and control loop.
type PipelineSettings struct {
	QueueCapacity int
	StatsInterval time.Duration
	MuxWait       time.Duration
}

// TelemetrySettings toggles telemetry outputs.
type TelemetrySettings struct {
	PrometheusEnabled bool
	AuthUsername      string
	AuthPassword      string
	SystemdUnit       string
	// RelayName is the {relay} token of NATS subjects.
	RelayName  string
	NatsURL    string
	NatsListen string
}

// RTMPURL returns the publish URL.
func (s *Settings) RTMPURL() string {
	if s.Output.URL != "" {
		return s.Output.URL
	}
	return fmt.Sprintf("rtmp://%s:%d/%s/%s", s.Output.Host, s.OutputPort, s.Output.App, s.Output.Stream)
}

// SRTAddress returns the listen address of the SRT source.
func (s *Settings) SRTAddress() string {
	return fmt.Sprintf("0.0.0.0:%d", s.InputPort)
}

// WebAddress returns the listen address of the telemetry service.
func (s *Settings) WebAddress() string {
	return fmt.Sprintf(":%d", s.WebPort)
}

// LoggingConfig maps the logging options onto logging.Config.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"router":     o.LoggingRouter,
			"supervisor": o.LoggingSupervisor,
			"media":      o.LoggingMedia,
			"telemetry":  o.LoggingTelemetry,
			"preview":    o.LoggingPreview,
		},
	}
}

// Validate checks the relay rules and returns typed settings. The first
// violation is returned as *Error; the passphrase is checked first, then
// the input, output and web ports.
func Validate(o *Options) (*Settings, error) {
	if o.Passphrase == "" {
		return nil, &Error{Key: "PASSPHRASE", Message: "not set", Cause: ErrMissing}
	}
	if n := len(o.Passphrase); n < MinPassphraseLen || n > MaxPassphraseLen {
		return nil, &Error{
			Key:     "PASSPHRASE",
			Message: fmt.Sprintf("must be between %d and %d characters, got %d", MinPassphraseLen, MaxPassphraseLen, n),
			Cause:   ErrOutOfRange,
		}
	}

	s := &Settings{Passphrase: o.Passphrase}
	var err error
	if s.InputPort, err = port("INPUT_PORT", o.InputPort); err != nil {
		return nil, err
	}
	if s.OutputPort, err = port("OUTPUT_PORT", o.OutputPort); err != nil {
		return nil, err
	}
	if s.WebPort, err = port("WEB_PORT", o.WebPort); err != nil {
		return nil, err
	}

	s.Output = OutputSettings{Host: o.OutputHost, App: o.OutputApp, Stream: o.OutputStream, URL: o.OutputURL}
	if s.Output.URL != "" {
		u, perr := url.Parse(s.Output.URL)
		if perr != nil {
			return nil, &Error{Key: "output.url", Message: "invalid URL", Cause: perr}
		}
		if u.Scheme != "rtmp" && u.Scheme != "rtmps" {
			return nil, &Error{Key: "output.url", Message: "scheme must be rtmp or rtmps", Cause: ErrInvalid}
		}
	} else if s.Output.Host == "" || s.Output.App == "" || s.Output.Stream == "" {
		return nil, &Error{Key: "output", Message: "host, app and stream are required without output.url", Cause: ErrMissing}
	}

	if o.SrtLatencyMs < 0 {
		return nil, &Error{Key: "srt.latency_ms", Message: strconv.Itoa(o.SrtLatencyMs), Cause: ErrOutOfRange}
	}
	switch o.SrtPbkeylen {
	case 16, 24, 32:
	default:
		return nil, &Error{Key: "srt.pbkeylen", Message: "must be 16, 24 or 32", Cause: ErrInvalid}
	}
	s.SRT = SRTSettings{
		Latency:  time.Duration(o.SrtLatencyMs) * time.Millisecond,
		PBKeyLen: o.SrtPbkeylen,
	}

	if o.PipelineQueueCapacity <= 0 {
		return nil, &Error{Key: "pipeline.queue_capacity", Message: "must be positive", Cause: ErrOutOfRange}
	}
	s.Pipeline.QueueCapacity = o.PipelineQueueCapacity
	if s.Pipeline.StatsInterval, err = positiveDuration("pipeline.stats_interval", o.PipelineStatsInterval); err != nil {
		return nil, err
	}
	if s.Pipeline.MuxWait, err = positiveDuration("pipeline.mux_wait", o.PipelineMuxWait); err != nil {
		return nil, err
	}

	s.Telemetry = TelemetrySettings{
		PrometheusEnabled: o.TelemetryPrometheusEnabled,
		AuthUsername:      o.TelemetryAuthUsername,
		AuthPassword:      o.TelemetryAuthPassword,
		SystemdUnit:       o.SystemdUnit,
		RelayName:         o.TelemetryRelayName,
		NatsURL:           o.TelemetryNatsURL,
		NatsListen:        o.TelemetryNatsListen,
	}
	if s.Telemetry.AuthUsername != "" && s.Telemetry.AuthPassword == "" {
		return nil, &Error{Key: "telemetry.auth_password", Message: "required with telemetry.auth_username", Cause: ErrMissing}
	}
	if s.Telemetry.NatsURL != "" || s.Telemetry.NatsListen != "" {
		if s.Telemetry.RelayName == "" || strings.ContainsAny(s.Telemetry.RelayName, ".*> \t") {
			return nil, &Error{Key: "telemetry.relay_name", Message: "must be a single NATS subject token", Cause: ErrInvalid}
		}
	}
	if s.Telemetry.NatsURL != "" {
		u, perr := url.Parse(s.Telemetry.NatsURL)
		if perr != nil {
			return nil, &Error{Key: "telemetry.nats_url", Message: "invalid URL", Cause: perr}
		}
		if u.Scheme != "nats" && u.Scheme != "tls" {
			return nil, &Error{Key: "telemetry.nats_url", Message: "scheme must be nats or tls", Cause: ErrInvalid}
		}
	}
	if s.Telemetry.NatsListen != "" {
		if _, _, serr := net.SplitHostPort(s.Telemetry.NatsListen); serr != nil {
			return nil, &Error{Key: "telemetry.nats_listen", Message: "must be host:port", Cause: serr}
		}
	}

	s.Logging = o.LoggingConfig()
	if s.Logging.Level != "" && !logging.ValidLevel(s.Logging.Level) {
		return nil, &Error{Key: "logging.level", Message: s.Logging.Level, Cause: ErrInvalid}
	}
	return s, nil
}

func port(key string, value int) (uint16, error) {
	if value == 0 {
		return 0, &Error{Key: key, Message: "not set", Cause: ErrMissing}
	}
	if value < 1 || value > 65535 {
		return 0, &Error{Key: key, Message: "invalid port number " + strconv.Itoa(value), Cause: ErrOutOfRange}
	}
	return uint16(value), nil
}

func positiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &Error{Key: key, Message: "invalid duration " + strconv.Quote(value), Cause: err}
	}
	if d <= 0 {
		return 0, &Error{Key: key, Message: "must be positive", Cause: ErrOutOfRange}
	}
	return d, nil
}
