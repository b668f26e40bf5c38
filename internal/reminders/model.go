package reminders

import "time"

// Job is a persisted fire-at record derived from an event. The job set for an
// event is fully determined by the event's current state plus its matching
// rule; regeneration replaces it wholesale.
type Job struct {
	JobID           string `gorm:"column:job_id;primaryKey;size:190;not null"`
	UserID          string `gorm:"column:user_id;size:190;not null;index:idx_jobs_user"`
	EventID         string `gorm:"column:event_id;size:190;not null;index:idx_jobs_event"`
	FireTimeSeconds int64  `gorm:"column:fire_time_s;not null;index:idx_jobs_sent_fire,priority:2"`
	Sent            bool   `gorm:"column:sent;not null;default:false;index:idx_jobs_sent_fire,priority:1"`
}

// TableName provides the explicit table binding for GORM.
func (Job) TableName() string {
	return "reminder_jobs"
}

// FireTime returns the absolute fire instant in the provided location.
func (j Job) FireTime(loc *time.Location) time.Time {
	return time.Unix(j.FireTimeSeconds, 0).In(loc)
}
