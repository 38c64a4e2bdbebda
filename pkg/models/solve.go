package models

import "time"

// Solve outcomes recorded in history.
const (
	OutcomeRedeemed = "redeemed"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
)

// SolveRecord is one completed solve attempt against an origin host.
type SolveRecord struct {
	Host       string    `json:"host"`
	Algorithm  string    `json:"algorithm"`
	Difficulty int       `json:"difficulty"`
	Nonce      uint64    `json:"nonce"`
	Attempts   uint64    `json:"attempts"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Outcome    string    `json:"outcome"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// SolveSummary aggregates solve history per host and algorithm.
type SolveSummary struct {
	Host         string  `json:"host"`
	Algorithm    string  `json:"algorithm"`
	Solves       int64   `json:"solves"`
	Redeemed     int64   `json:"redeemed"`
	AvgElapsedMS float64 `json:"avg_elapsed_ms"`
}
