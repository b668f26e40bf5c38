package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/reminders"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"go.uber.org/zap"
)

type eventPayload struct {
	Title string  `json:"title"`
	Date  string  `json:"date"`
	Time  *string `json:"time"`
	Label *string `json:"label"`
	Notes *string `json:"notes"`
}

type eventUpdatePayload struct {
	Title     *string `json:"title"`
	Date      *string `json:"date"`
	Time      *string `json:"time"`
	Label     *string `json:"label"`
	Notes     *string `json:"notes"`
	Completed *bool   `json:"completed"`
}

type eventResponsePayload struct {
	EventID   string  `json:"id"`
	Title     string  `json:"title"`
	Date      string  `json:"date"`
	Time      *string `json:"time"`
	Label     *string `json:"label"`
	Notes     *string `json:"notes"`
	Completed bool    `json:"completed"`
}

type calendarEntryPayload struct {
	Kind       string  `json:"kind"`
	Date       string  `json:"date"`
	EventID    string  `json:"event_id"`
	Title      string  `json:"title"`
	Time       *string `json:"time,omitempty"`
	Label      *string `json:"label,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	Completed  bool    `json:"completed"`
	OffsetDays int     `json:"offset_days,omitempty"`
	EventDate  string  `json:"event_date,omitempty"`
}

func eventResponse(event events.Event) eventResponsePayload {
	return eventResponsePayload{
		EventID:   event.EventID,
		Title:     event.Title,
		Date:      event.Date,
		Time:      event.Time,
		Label:     event.Label,
		Notes:     event.Notes,
		Completed: event.Completed,
	}
}

// handleListCalendar serves the month view: real events merged with virtual
// reminder occurrences projected from upcoming events.
func (h *httpHandler) handleListCalendar(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	month := c.Query("month")

	hideCompleted := false
	settings, err := h.users.GetSettings(c.Request.Context(), userID)
	if err == nil {
		hideCompleted = settings.HideCompletedReminders
	} else if !errors.Is(err, users.ErrUserNotFound) {
		h.logger.Error("settings lookup failed", zap.Error(err))
	}

	entries, err := h.reminders.ExpandMonth(c.Request.Context(), userID, month, hideCompleted)
	if err != nil {
		if errors.Is(err, reminders.ErrInvalidMonth) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_month"})
			return
		}
		h.logger.Error("month expansion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]calendarEntryPayload, 0, len(entries))
	for _, entry := range entries {
		response = append(response, calendarEntryPayload{
			Kind:       string(entry.Kind),
			Date:       entry.Date,
			EventID:    entry.EventID,
			Title:      entry.Title,
			Time:       entry.Time,
			Label:      entry.Label,
			Notes:      entry.Notes,
			Completed:  entry.Completed,
			OffsetDays: entry.OffsetDays,
			EventDate:  entry.EventDate,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": response})
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request eventPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	createRequest, err := parseCreateRequest(request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
		return
	}

	event, _, err := h.events.Create(c.Request.Context(), userID, createRequest)
	if err != nil {
		h.logger.Error("event creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event": eventResponse(event)})
}

func (h *httpHandler) handleUpdateEvent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	eventID, err := events.NewEventID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_id"})
		return
	}

	var request eventUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updateRequest, err := parseUpdateRequest(request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
		return
	}

	event, _, err := h.events.Update(c.Request.Context(), userID, eventID, updateRequest)
	if err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event_not_found"})
			return
		}
		if errors.Is(err, events.ErrInvalidTitle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
			return
		}
		h.logger.Error("event update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": eventResponse(event)})
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	eventID, err := events.NewEventID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_id"})
		return
	}

	if err := h.events.Delete(c.Request.Context(), userID, eventID); err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event_not_found"})
			return
		}
		h.logger.Error("event deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type bulkCreatePayload struct {
	Events []eventPayload `json:"events"`
}

type bulkRowPayload struct {
	Index int                   `json:"index"`
	Event *eventResponsePayload `json:"event,omitempty"`
	Error string                `json:"error,omitempty"`
}

func (h *httpHandler) handleBulkCreateEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request bulkCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	requests := make([]events.CreateRequest, 0, len(request.Events))
	for _, row := range request.Events {
		createRequest, err := parseCreateRequest(row)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
			return
		}
		requests = append(requests, createRequest)
	}

	rows := h.events.BulkCreate(c.Request.Context(), userID, requests)

	created := 0
	response := make([]bulkRowPayload, 0, len(rows))
	for _, row := range rows {
		payload := bulkRowPayload{Index: row.Index}
		if row.Err != nil {
			payload.Error = "create_failed"
		} else {
			created++
			body := eventResponse(row.Event)
			payload.Event = &body
		}
		response = append(response, payload)
	}

	c.JSON(http.StatusCreated, gin.H{"created": created, "results": response})
}

func parseCreateRequest(payload eventPayload) (events.CreateRequest, error) {
	date, err := events.NewDate(payload.Date)
	if err != nil {
		return events.CreateRequest{}, err
	}

	request := events.CreateRequest{
		Title: payload.Title,
		Date:  date,
		Label: payload.Label,
		Notes: payload.Notes,
	}
	if payload.Time != nil && *payload.Time != "" {
		clockTime, err := events.NewClockTime(*payload.Time)
		if err != nil {
			return events.CreateRequest{}, err
		}
		request.Time = &clockTime
	}
	return request, nil
}

// parseUpdateRequest maps the wire payload onto a partial mutation. An
// explicit empty string clears the time or label; an absent field keeps it.
func parseUpdateRequest(payload eventUpdatePayload) (events.UpdateRequest, error) {
	request := events.UpdateRequest{
		Title:     payload.Title,
		Notes:     payload.Notes,
		Completed: payload.Completed,
	}

	if payload.Date != nil {
		date, err := events.NewDate(*payload.Date)
		if err != nil {
			return events.UpdateRequest{}, err
		}
		request.Date = &date
	}
	if payload.Time != nil {
		if *payload.Time == "" {
			request.ClearTime = true
		} else {
			clockTime, err := events.NewClockTime(*payload.Time)
			if err != nil {
				return events.UpdateRequest{}, err
			}
			request.Time = &clockTime
		}
	}
	if payload.Label != nil {
		if *payload.Label == "" {
			request.ClearLabel = true
		} else {
			request.Label = payload.Label
		}
	}
	return request, nil
}
