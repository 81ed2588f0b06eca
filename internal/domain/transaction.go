// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"time"
)

// Transaction is a single normalized money transfer between two accounts.
// Records reaching the engine have already been validated by the ingest
// layer; the engine treats missing fields as a programming error.
type Transaction struct {
	ID       string    `json:"transactionId"`
	Sender   string    `json:"senderId"`
	Receiver string    `json:"receiverId"`
	Amount   float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Pattern tokens attached to accounts by the orchestrator.
const (
	PatternCycle        = "cycle"
	PatternCycleLen35   = "cycle_length_3_5"
	PatternFanIn        = "fan_in"
	PatternFanOut       = "fan_out"
	PatternShell        = "shell"
	PatternHighVelocity = "high_velocity"
)

// Ring pattern types. Rings are created in this order, which fixes the
// RING_NNN id sequence.
const (
	RingCycle        = "cycle"
	RingFanIn        = "fan_in"
	RingFanOut       = "fan_out"
	RingShellChain   = "shell_chain"
	RingHighVelocity = "high_velocity"
)
