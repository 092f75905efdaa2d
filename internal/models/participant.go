package models

import "time"

// Participant represents a named chat session kept alive by heartbeats.
type Participant struct {
	Name       string    `json:"name"`
	LastStatus time.Time `json:"last_status"`
}

// Stale reports whether the last heartbeat is strictly older than cutoff.
func (p Participant) Stale(cutoff time.Time) bool {
	return p.LastStatus.Before(cutoff)
}
