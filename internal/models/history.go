package models

import "time"

// HistoryEntry is one recent query of a client. The history list is capped,
// deduplicated by exact query string, and ordered newest first.
type HistoryEntry struct {
	Query   string    `json:"query"`
	AskedAt time.Time `json:"asked_at"`
}
