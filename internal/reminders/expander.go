package reminders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/rules"
	"go.uber.org/zap"
)

const monthLayout = "2006-01"

// ErrInvalidMonth indicates that a month is not in YYYY-MM form.
var ErrInvalidMonth = errors.New("reminders: invalid month")

// EntryKind distinguishes real events from projected reminder occurrences.
type EntryKind string

const (
	// EntryKindEvent is a real persisted event dated within the month.
	EntryKindEvent EntryKind = "event"
	// EntryKindReminder is a virtual occurrence projected from an upcoming
	// event's reminder schedule. Never persisted.
	EntryKindReminder EntryKind = "reminder"
)

// CalendarEntry is one display row of the month view.
type CalendarEntry struct {
	Kind       EntryKind
	Date       string
	EventID    string
	Title      string
	Time       *string
	Label      *string
	Notes      *string
	Completed  bool
	OffsetDays int    // reminder entries only
	EventDate  string // reminder entries only: the originating event's own date
}

// ExpandMonth merges the user's real events dated within the month with one
// virtual reminder entry per (event, offset) whose computed fire date falls in
// the month, including reminders of events in later months. The projection
// uses the same fire-time arithmetic as job materialization, so the calendar
// and the dispatched notifications always agree. With hideCompleted set,
// reminder entries of completed events are suppressed; the real entries stay.
func (s *Service) ExpandMonth(ctx context.Context, userID string, month string, hideCompleted bool) ([]CalendarEntry, error) {
	if _, err := time.Parse(monthLayout, strings.TrimSpace(month)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	monthPrefix := month + "-"
	monthStart := month + "-01"

	ruleRows, err := s.userRules(ctx, userID)
	if err != nil {
		return nil, err
	}
	specsByLabel := make(map[string]RuleSpec, len(ruleRows))
	for _, rule := range ruleRows {
		specsByLabel[rule.Label] = SpecFromRule(rule)
	}

	// Events before the month cannot project reminders into it: a reminder
	// never falls after its event.
	var eventRows []events.Event
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, monthStart).
		Order("date ASC").
		Find(&eventRows).Error; err != nil {
		s.logError(opExpandMonth, "event_query_failed", err)
		return nil, newServiceError(opExpandMonth, "event_query_failed", err)
	}

	entries := make([]CalendarEntry, 0, len(eventRows))
	for _, event := range eventRows {
		if strings.HasPrefix(event.Date, monthPrefix) {
			entries = append(entries, CalendarEntry{
				Kind:      EntryKindEvent,
				Date:      event.Date,
				EventID:   event.EventID,
				Title:     event.Title,
				Time:      event.Time,
				Label:     event.Label,
				Notes:     event.Notes,
				Completed: event.Completed,
			})
		}

		if hideCompleted && event.Completed {
			continue
		}

		spec := DefaultRuleSpec()
		if event.Label != nil {
			if labelSpec, ok := specsByLabel[*event.Label]; ok {
				spec = labelSpec
			}
		}

		anchor, err := Anchor(event.Date, event.Time, spec, s.location)
		if err != nil {
			s.logError(opExpandMonth, "invalid_anchor", err, zap.String("event_id", event.EventID))
			continue
		}
		fireTimes := FireTimes(anchor, spec)
		for index, fireTime := range fireTimes {
			fireDate := fireTime.Format(dateLayout)
			if !strings.HasPrefix(fireDate, monthPrefix) {
				continue
			}
			entries = append(entries, CalendarEntry{
				Kind:       EntryKindReminder,
				Date:       fireDate,
				EventID:    event.EventID,
				Title:      event.Title,
				Time:       event.Time,
				Label:      event.Label,
				Completed:  event.Completed,
				OffsetDays: spec.OffsetsInDays[index],
				EventDate:  event.Date,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind == EntryKindEvent
		}
		return entries[i].Title < entries[j].Title
	})
	return entries, nil
}

func (s *Service) userRules(ctx context.Context, userID string) ([]rules.Rule, error) {
	var ruleRows []rules.Rule
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&ruleRows).Error; err != nil {
		s.logError(opExpandMonth, "rule_query_failed", err)
		return nil, newServiceError(opExpandMonth, "rule_query_failed", err)
	}
	return ruleRows, nil
}
