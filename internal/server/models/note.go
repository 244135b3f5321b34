package models

import "time"

// Note is reusable content; posts reference it by id.
type Note struct {
	ID        string
	AccountID string
	Title     string
	Content   string
	Metadata  map[string]any
	Tags      []string
	Pinned    bool
	CreatedAt time.Time
}
