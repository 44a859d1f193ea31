package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func validOptions() *Options {
	return &Options{
		InputPort:                  9000,
		OutputPort:                 1935,
		WebPort:                    8080,
		Passphrase:                 "0123456789abcdef",
		OutputHost:                 "127.0.0.1",
		OutputApp:                  "live",
		OutputStream:               "stream",
		SrtLatencyMs:               120,
		SrtPbkeylen:                32,
		PipelineQueueCapacity:      256,
		PipelineStatsInterval:      "1s",
		PipelineMuxWait:            "2s",
		TelemetryPrometheusEnabled: true,
		TelemetryRelayName:         "srtrelay",
		LoggingLevel:               "info",
		LoggingFormat:              "text",
	}
}

func TestValidateDefaults(t *testing.T) {
	s, err := Validate(validOptions())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if s.InputPort != 9000 || s.OutputPort != 1935 || s.WebPort != 8080 {
		t.Errorf("ports = %d/%d/%d", s.InputPort, s.OutputPort, s.WebPort)
	}
	if got := s.RTMPURL(); got != "rtmp://127.0.0.1:1935/live/stream" {
		t.Errorf("RTMPURL = %q", got)
	}
	if got := s.SRTAddress(); got != "0.0.0.0:9000" {
		t.Errorf("SRTAddress = %q", got)
	}
	if s.SRT.Latency != 120*time.Millisecond || s.SRT.PBKeyLen != 32 {
		t.Errorf("SRT = %+v", s.SRT)
	}
	if s.Pipeline.StatsInterval != time.Second || s.Pipeline.MuxWait != 2*time.Second {
		t.Errorf("Pipeline = %+v", s.Pipeline)
	}
}

func TestValidateOutputURLOverride(t *testing.T) {
	o := validOptions()
	o.OutputURL = "rtmp://ingest.example.net/app/key"
	s, err := Validate(o)
	if err != nil {
		t.Fatal(err)
	}
	if s.RTMPURL() != o.OutputURL {
		t.Errorf("RTMPURL = %q", s.RTMPURL())
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantKey string
		cause   error
	}{
		{"missing passphrase", func(o *Options) { o.Passphrase = "" }, "PASSPHRASE", ErrMissing},
		{"short passphrase", func(o *Options) { o.Passphrase = "123456789" }, "PASSPHRASE", ErrOutOfRange},
		{"long passphrase", func(o *Options) { o.Passphrase = string(make([]byte, 81)) }, "PASSPHRASE", ErrOutOfRange},
		{"missing input port", func(o *Options) { o.InputPort = 0 }, "INPUT_PORT", ErrMissing},
		{"output port too large", func(o *Options) { o.OutputPort = 70000 }, "OUTPUT_PORT", ErrOutOfRange},
		{"negative web port", func(o *Options) { o.WebPort = -1 }, "WEB_PORT", ErrOutOfRange},
		{"bad url scheme", func(o *Options) { o.OutputURL = "http://example.net/live" }, "output.url", ErrInvalid},
		{"empty app", func(o *Options) { o.OutputApp = "" }, "output", ErrMissing},
		{"bad key length", func(o *Options) { o.SrtPbkeylen = 20 }, "srt.pbkeylen", ErrInvalid},
		{"zero queue", func(o *Options) { o.PipelineQueueCapacity = 0 }, "pipeline.queue_capacity", ErrOutOfRange},
		{"zero interval", func(o *Options) { o.PipelineStatsInterval = "0s" }, "pipeline.stats_interval", ErrOutOfRange},
		{"bad level", func(o *Options) { o.LoggingLevel = "loud" }, "logging.level", ErrInvalid},
		{"auth without password", func(o *Options) { o.TelemetryAuthUsername = "admin" }, "telemetry.auth_password", ErrMissing},
		{"nats url scheme", func(o *Options) { o.TelemetryNatsURL = "http://broker:4222" }, "telemetry.nats_url", ErrInvalid},
		{"relay name with wildcard", func(o *Options) {
			o.TelemetryNatsURL = "nats://broker:4222"
			o.TelemetryRelayName = "cam.*"
		}, "telemetry.relay_name", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mutate(o)
			s, err := Validate(o)
			if s != nil {
				t.Error("no settings expected on error")
			}
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if cfgErr.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", cfgErr.Key, tt.wantKey)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("cause = %v, want %v", cfgErr.Cause, tt.cause)
			}
		})
	}
}

func TestValidatePassphraseCheckedFirst(t *testing.T) {
	o := validOptions()
	o.Passphrase = "short"
	o.InputPort = 0

	_, err := Validate(o)
	var cfgErr *Error
	if !errors.As(err, &cfgErr) || cfgErr.Key != "PASSPHRASE" {
		t.Errorf("expected passphrase error first, got %v", err)
	}
}

func TestEnvironmentNamesMatchDeployment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.toml")
	t.Setenv("INPUT_PORT", "7001")
	t.Setenv("OUTPUT_PORT", "1936")
	t.Setenv("WEB_PORT", "8081")
	t.Setenv("PASSPHRASE", "a-long-enough-secret")

	o := validOptions()
	o.Config = path
	o.InputPort, o.OutputPort, o.WebPort, o.Passphrase = 0, 0, 0, ""
	if err := LoadConfig(o, nil); err != nil {
		t.Fatal(err)
	}
	s, err := Validate(o)
	if err != nil {
		t.Fatal(err)
	}
	if s.InputPort != 7001 || s.OutputPort != 1936 || s.WebPort != 8081 || s.Passphrase != "a-long-enough-secret" {
		t.Errorf("unexpected settings %+v", s)
	}
}
