// Package nats forwards relay telemetry to NATS so dashboards and alerting
// on other hosts can follow a relay without polling its HTTP API.
//
// # Subject Hierarchy
//
//	srtrelay.{relay}.stats      # decoded SRT statistics, one per sample
//	srtrelay.{relay}.state      # control loop transitions
//	srtrelay.{relay}.routes     # stream bound or degraded
//	srtrelay.{relay}.callers    # SRT connection attempts
//
// {relay} is the configured relay name. Messages are the JSON encoding of
// the corresponding event. Publishing is fire-and-forget (core NATS, no
// JetStream) and degrades to a no-op while the broker is unreachable.
//
// # Embedded Server
//
// Single-host deployments can run the broker inside the relay process
// (telemetry.nats_listen); the publisher then connects to it.
//
// # Debugging with nats CLI
//
// Follow everything a relay publishes:
//
//	nats sub "srtrelay.>" -s nats://localhost:4222
//
// Only statistics, pretty-printed:
//
//	nats sub "srtrelay.*.stats" --raw | jq .
package nats
