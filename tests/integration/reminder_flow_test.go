package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/halcyonlabs/remindcal/backend/internal/auth"
	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/ids"
	"github.com/halcyonlabs/remindcal/backend/internal/push"
	"github.com/halcyonlabs/remindcal/backend/internal/reminders"
	"github.com/halcyonlabs/remindcal/backend/internal/rules"
	"github.com/halcyonlabs/remindcal/backend/internal/scheduler"
	"github.com/halcyonlabs/remindcal/backend/internal/server"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "token"
	jsonContentType      = "application/json"
)

// recordingSender captures deliveries instead of reaching a push gateway.
type recordingSender struct {
	payloads []push.Payload
}

func (s *recordingSender) Send(ctx context.Context, subscription push.Subscription, payload push.Payload) error {
	s.payloads = append(s.payloads, payload)
	return nil
}

type fixture struct {
	handler http.Handler
	sender  *recordingSender
	db      *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:remindcal_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&users.User{}, &events.Event{}, &rules.Rule{}, &reminders.Job{}, &push.Subscription{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	// The dispatcher clock sits past the expected fire instant so a job created
	// during the test is immediately due.
	clock := func() time.Time {
		return time.Date(2025, time.June, 19, 12, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))
	}
	location := time.FixedZone("UTC+8", 8*3600)
	idProvider := ids.NewUUIDProvider()

	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        "remindcal-integration",
		CookieName:    sessionCookieName,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct session manager: %v", err)
	}

	remindersService, err := reminders.NewService(reminders.ServiceConfig{
		Database: db, IDProvider: idProvider, Location: location, Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build reminders service: %v", err)
	}
	eventsService, err := events.NewService(events.ServiceConfig{
		Database: db, Clock: clock, IDProvider: idProvider, Materializer: remindersService, Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build events service: %v", err)
	}
	rulesService, err := rules.NewService(rules.ServiceConfig{
		Database: db, Clock: clock, IDProvider: idProvider, Materializer: remindersService, Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build rules service: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{
		Database: db, Clock: clock, IDProvider: idProvider, Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	pushService, err := push.NewService(push.ServiceConfig{
		Database: db, Clock: clock, IDProvider: idProvider, Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build push service: %v", err)
	}

	sender := &recordingSender{}
	dispatcher, err := scheduler.NewService(scheduler.ServiceConfig{
		Database:      db,
		Reminders:     remindersService,
		Subscriptions: pushService,
		Sender:        sender,
		Clock:         clock,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		Users:          usersService,
		Events:         eventsService,
		Rules:          rulesService,
		Reminders:      remindersService,
		Subscriptions:  pushService,
		Dispatcher:     dispatcher,
		VAPIDPublicKey: "integration-vapid-public",
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &fixture{handler: handler, sender: sender, db: db}
}

func (f *fixture) post(t *testing.T, path string, body map[string]any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	request.Header.Set("Content-Type", jsonContentType)
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *fixture) get(t *testing.T, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *fixture) login(t *testing.T) *http.Cookie {
	t.Helper()
	credentials := map[string]any{"email": "alice@example.com", "password": "secret123"}
	if recorder := f.post(t, "/api/auth/register", credentials, nil); recorder.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", recorder.Code, recorder.Body.String())
	}
	recorder := f.post(t, "/api/auth/login", credentials, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", recorder.Code, recorder.Body.String())
	}
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	t.Fatalf("expected session cookie")
	return nil
}

func TestReminderLifecycleFlow(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	// A labeled rule firing one day ahead at 09:00.
	ruleResponse := f.post(t, "/api/reminder-rules", map[string]any{
		"label":           "urgent",
		"offsets_in_days": []int{1},
		"default_time":    "09:00",
	}, cookie)
	if ruleResponse.Code != http.StatusCreated {
		t.Fatalf("rule creation failed: %d %s", ruleResponse.Code, ruleResponse.Body.String())
	}

	eventResponse := f.post(t, "/api/events", map[string]any{
		"title": "Tax filing",
		"date":  "2025-06-20",
		"label": "urgent",
	}, cookie)
	if eventResponse.Code != http.StatusCreated {
		t.Fatalf("event creation failed: %d %s", eventResponse.Code, eventResponse.Body.String())
	}

	var jobs []reminders.Job
	if err := f.db.Find(&jobs).Error; err != nil {
		t.Fatalf("failed to load jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one materialized job, got %d", len(jobs))
	}
	expectedFire := time.Date(2025, time.June, 19, 9, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))
	if jobs[0].FireTimeSeconds != expectedFire.Unix() {
		t.Fatalf("unexpected fire time: got %d, want %d", jobs[0].FireTimeSeconds, expectedFire.Unix())
	}

	// The calendar shows the reminder occurrence alongside the event.
	calendar := f.get(t, "/api/events?month=2025-06", cookie)
	if calendar.Code != http.StatusOK {
		t.Fatalf("calendar listing failed: %d %s", calendar.Code, calendar.Body.String())
	}
	var calendarBody struct {
		Entries []struct {
			Kind      string `json:"kind"`
			Date      string `json:"date"`
			EventDate string `json:"event_date"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(calendar.Body.Bytes(), &calendarBody); err != nil {
		t.Fatalf("failed to decode calendar: %v", err)
	}
	if len(calendarBody.Entries) != 2 {
		t.Fatalf("expected 2 calendar entries, got %d", len(calendarBody.Entries))
	}
	if calendarBody.Entries[0].Kind != "reminder" || calendarBody.Entries[0].Date != "2025-06-19" {
		t.Fatalf("unexpected reminder entry: %+v", calendarBody.Entries[0])
	}

	subscribeResponse := f.post(t, "/api/push/subscribe", map[string]any{
		"endpoint": "https://push.example.com/device-1",
		"keys":     map[string]string{"p256dh": "key", "auth": "auth"},
	}, cookie)
	if subscribeResponse.Code != http.StatusCreated {
		t.Fatalf("subscribe failed: %d %s", subscribeResponse.Code, subscribeResponse.Body.String())
	}

	runResponse := f.post(t, "/api/scheduler/run", nil, cookie)
	if runResponse.Code != http.StatusOK {
		t.Fatalf("scheduler run failed: %d %s", runResponse.Code, runResponse.Body.String())
	}

	if len(f.sender.payloads) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.sender.payloads))
	}
	payload := f.sender.payloads[0]
	if payload.Body != "Tax filing - 2025-06-20" {
		t.Fatalf("unexpected notification body: %q", payload.Body)
	}

	if err := f.db.Find(&jobs).Error; err != nil {
		t.Fatalf("failed to reload jobs: %v", err)
	}
	if len(jobs) != 1 || !jobs[0].Sent {
		t.Fatalf("expected job spent after dispatch: %+v", jobs)
	}

	// A second run finds nothing due.
	if recorder := f.post(t, "/api/scheduler/run", nil, cookie); recorder.Code != http.StatusOK {
		t.Fatalf("second scheduler run failed: %d", recorder.Code)
	}
	if len(f.sender.payloads) != 1 {
		t.Fatalf("expected no repeat delivery, got %d", len(f.sender.payloads))
	}
}

func TestCompletedEventLeavesNoPendingReminder(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	eventResponse := f.post(t, "/api/events", map[string]any{
		"title": "Dentist",
		"date":  "2025-06-20",
	}, cookie)
	if eventResponse.Code != http.StatusCreated {
		t.Fatalf("event creation failed: %d %s", eventResponse.Code, eventResponse.Body.String())
	}
	var created struct {
		Event struct {
			ID string `json:"id"`
		} `json:"event"`
	}
	if err := json.Unmarshal(eventResponse.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	encoded, err := json.Marshal(map[string]any{"completed": true})
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	request := httptest.NewRequest(http.MethodPut, "/api/events/"+created.Event.ID, bytes.NewReader(encoded))
	request.Header.Set("Content-Type", jsonContentType)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("completion failed: %d %s", recorder.Code, recorder.Body.String())
	}

	var jobs []reminders.Job
	if err := f.db.Find(&jobs).Error; err != nil {
		t.Fatalf("failed to load jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected completion to clear jobs, got %d", len(jobs))
	}

	if runResponse := f.post(t, "/api/scheduler/run", nil, cookie); runResponse.Code != http.StatusOK {
		t.Fatalf("scheduler run failed: %d", runResponse.Code)
	}
	if len(f.sender.payloads) != 0 {
		t.Fatalf("expected no notification for completed event, got %d", len(f.sender.payloads))
	}
}
