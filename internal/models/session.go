package models

import "time"

// Session groups the messages of one consultation, scoped to an anonymous client.
type Session struct {
	ID        int64     `json:"id"`
	ClientID  string    `json:"client_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
