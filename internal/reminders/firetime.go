package reminders

import (
	"fmt"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/rules"
)

const (
	defaultOffsetDays   = 1
	defaultReminderHHMM = "10:00"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// RuleSpec is the offset schedule applied to one event. It is the pure input
// shared by job materialization and the read-path month expansion, so both
// always agree on fire dates.
type RuleSpec struct {
	OffsetsInDays []int
	DefaultTime   string
	AvoidWeekends bool
}

// DefaultRuleSpec is the fallback applied when an event has no label or the
// label has no rule: one reminder a day ahead at 10:00, weekends kept.
func DefaultRuleSpec() RuleSpec {
	return RuleSpec{
		OffsetsInDays: []int{defaultOffsetDays},
		DefaultTime:   defaultReminderHHMM,
	}
}

// SpecFromRule converts a persisted rule into its pure schedule form.
func SpecFromRule(rule rules.Rule) RuleSpec {
	return RuleSpec{
		OffsetsInDays: rule.OffsetsInDays,
		DefaultTime:   rule.DefaultTime,
		AvoidWeekends: rule.AvoidWeekends,
	}
}

// Anchor combines the event's calendar day and wall-clock time into an
// absolute instant in the fixed civil timezone. When the event carries no
// explicit time the rule's default time applies.
func Anchor(date string, eventTime *string, spec RuleSpec, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse event date %q: %w", date, err)
	}

	hhmm := spec.DefaultTime
	if eventTime != nil && *eventTime != "" {
		hhmm = *eventTime
	}
	clock, err := time.Parse(timeLayout, hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse reminder time %q: %w", hhmm, err)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// FireTimes computes one fire instant per offset: the anchor's calendar date
// minus the offset in whole days, time-of-day preserved. With weekend
// avoidance a Sunday candidate shifts back two days and a Saturday candidate
// one day, both landing on the preceding Friday.
func FireTimes(anchor time.Time, spec RuleSpec) []time.Time {
	fireTimes := make([]time.Time, 0, len(spec.OffsetsInDays))
	for _, offset := range spec.OffsetsInDays {
		fireTime := anchor.AddDate(0, 0, -offset)
		if spec.AvoidWeekends {
			switch fireTime.Weekday() {
			case time.Sunday:
				fireTime = fireTime.AddDate(0, 0, -2)
			case time.Saturday:
				fireTime = fireTime.AddDate(0, 0, -1)
			}
		}
		fireTimes = append(fireTimes, fireTime)
	}
	return fireTimes
}
