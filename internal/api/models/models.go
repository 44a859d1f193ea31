// Package models holds the request and response bodies of the telemetry API.
package models

import (
	"time"

	"github.com/smazurov/srtrelay/internal/logging"
	"github.com/smazurov/srtrelay/internal/relay"
	"github.com/smazurov/srtrelay/internal/router"
	"github.com/smazurov/srtrelay/internal/srtstats"
	"github.com/smazurov/srtrelay/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Statistics models
type StatsData struct {
	Available bool             `json:"available" doc:"False until the first sample was decoded"`
	SampledAt time.Time        `json:"sampled_at,omitzero" doc:"Time of the sample"`
	Report    *srtstats.Report `json:"report,omitempty" doc:"Decoded SRT statistics"`
}

type StatsResponse struct {
	Body StatsData
}

// Routing models
type RoutesData struct {
	Routes []router.SlotStatus `json:"routes" doc:"Slot bindings"`
}

type RoutesResponse struct {
	Body RoutesData
}

type PipelineResponse struct {
	Body relay.Status
}

// Log models
type LogsInput struct {
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Number of most recent entries"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Most recent log entries, oldest first"`
	Count   int                `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}

// Preview models
type PreviewOfferInput struct {
	RawBody []byte `contentType:"application/sdp" doc:"SDP offer from browser"`
}

type PreviewAnswerOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}
