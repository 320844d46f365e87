package domain

import "time"

// ReminderEntry is one scheduled reflection reminder. Entries are generated
// on demand and never persisted.
type ReminderEntry struct {
	UserID        string    `json:"user_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Question      string    `json:"question"`
}
