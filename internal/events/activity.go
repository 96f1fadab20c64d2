// Package events defines the records the relay emits for downstream consumers.
package events

import "time"

// ActivityNotified is emitted after a notification for a new activity was attempted.
type ActivityNotified struct {
	ActivityID   int64     `json:"activity_id"`
	AthleteID    int64     `json:"athlete_id"`
	Category     string    `json:"category"`
	NotifyTarget string    `json:"notify_target"`
	Dispatched   bool      `json:"dispatched"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AthleteConnected is emitted when an athlete completes authorization.
type AthleteConnected struct {
	AthleteID    int64     `json:"athlete_id"`
	DisplayName  string    `json:"display_name"`
	NotifyTarget string    `json:"notify_target"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	EventTypeActivityNotified = "activity.notified"
	EventTypeAthleteConnected = "athlete.connected"
)
