package nats

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/srtrelay/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(ServerOptions{Port: -1, Logger: quietLogger()})
	if err := srv.Start(); err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func TestSubject(t *testing.T) {
	if got := Subject("cam1", KindStats); got != "srtrelay.cam1.stats" {
		t.Errorf("Subject = %q", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		kind string
		ok   bool
	}{
		{"sample", events.StatsSampledEvent{}, KindStats, true},
		{"decode failure", events.StatsDecodeFailedEvent{}, KindStats, true},
		{"state", events.PipelineStateEvent{}, KindState, true},
		{"bound", events.RouteBoundEvent{}, KindRoutes, true},
		{"degraded", events.RouteDegradedEvent{}, KindRoutes, true},
		{"caller", events.CallerConnectedEvent{}, KindCallers, true},
		{"log lines stay local", events.LogEntryEvent{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := kindOf(tt.ev)
			if kind != tt.kind || ok != tt.ok {
				t.Errorf("kindOf = %q, %v; want %q, %v", kind, ok, tt.kind, tt.ok)
			}
		})
	}
}

func TestParseListen(t *testing.T) {
	opts, err := ParseListen("0.0.0.0:4333")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Host != "0.0.0.0" || opts.Port != 4333 {
		t.Errorf("opts = %+v", opts)
	}
	if _, err := ParseListen("localhost"); err == nil {
		t.Error("missing port should fail")
	}
	if _, err := ParseListen("localhost:http"); err == nil {
		t.Error("named port should fail")
	}
}

func TestPublisherForwardsBusEvents(t *testing.T) {
	srv := startServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	routes, err := sub.SubscribeSync("srtrelay.cam1.>")
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	pub := NewPublisher(srv.ClientURL(), "cam1", quietLogger())
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pub.Close()
	if !pub.IsConnected() {
		t.Fatal("publisher should be connected")
	}

	bus := events.New()
	detach := pub.Attach(bus)
	defer detach()

	bus.Publish(events.LogEntryEvent{Message: "not forwarded"})
	bus.Publish(events.RouteBoundEvent{Slot: "video", Tag: "video/x-h264", Pad: "tsdemux:video_0100"})

	msg, err := routes.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no message: %v", err)
	}
	if msg.Subject != "srtrelay.cam1.routes" {
		t.Errorf("subject = %q", msg.Subject)
	}
	var got events.RouteBoundEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Slot != "video" || got.Pad != "tsdemux:video_0100" {
		t.Errorf("event = %+v", got)
	}
}

func TestPublisherWithoutBroker(t *testing.T) {
	pub := NewPublisher("nats://127.0.0.1:1", "cam1", quietLogger())
	if err := pub.Connect(); err == nil {
		t.Fatal("connect to a closed port should fail")
	}
	if pub.IsConnected() {
		t.Error("publisher should be offline")
	}
	pub.Publish(events.PipelineStateEvent{From: "assembling", To: "playing"})
	pub.Close()
}
