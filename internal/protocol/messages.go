package protocol

import "remansim/internal/sim/world"

// SUBSCRIBE (client -> server). First message on the stream; may be re-sent to
// change the sampling interval.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// EveryDays forwards one tick in N. Zero means every day.
	EveryDays int `json:"every_days,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Run             RunParams `json:"run"`
}

type RunParams struct {
	RunID         string  `json:"run_id"`
	Scenario      string  `json:"scenario"`
	Seed          uint64  `json:"seed"`
	Population    int     `json:"population"`
	Horizon       int     `json:"horizon"`
	Reman         bool    `json:"reman"`
	DaysPerSecond float64 `json:"days_per_second,omitempty"`
	CatalogDigest string  `json:"catalog_digest"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	Day             int       `json:"day"`
	Finished        bool      `json:"finished"`
	Run             RunParams `json:"run"`
}

// TICK (server -> client). Sent once per simulated day.
type TickMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	Day             int                `json:"day"`
	Digest          string             `json:"digest"`
	Snapshot        world.TickSnapshot `json:"snapshot"`
}

// REPORT (server -> client). Sent once when the run completes.
type ReportMsg struct {
	Type            string                `json:"type"`
	ProtocolVersion string                `json:"protocol_version"`
	Days            int                   `json:"days"`
	Digest          string                `json:"digest"`
	Final           world.TickSnapshot    `json:"final"`
	Report          world.FinancialReport `json:"report"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
