package eventbus

// Event types published by flowup components.
const (
	ActivityCreated = "activity.created"
	ActivityUpdated = "activity.updated"
	ActivityDeleted = "activity.deleted"

	ReminderScheduled = "reminder.scheduled"
	ReminderCanceled  = "reminder.canceled"
	ReminderFired     = "reminder.fired"
	ReminderStale     = "reminder.stale"
	ReminderSkipped   = "reminder.skipped"

	ConfigReloaded = "config.reloaded"
)

// ActivityChange is the payload of activity.* events.
type ActivityChange struct {
	ActivityID int64  `json:"activity_id"`
	Title      string `json:"title,omitempty"`
	Completed  bool   `json:"completed"`
}

// ReminderChange is the payload of reminder.* events.
type ReminderChange struct {
	ActivityID   int64  `json:"activity_id"`
	Generation   int64  `json:"generation"`
	FireAtMillis int64  `json:"fire_at_ms,omitempty"`
	Delivered    bool   `json:"delivered,omitempty"`
	Reason       string `json:"reason,omitempty"`
}
