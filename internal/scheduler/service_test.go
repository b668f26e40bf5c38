package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/push"
	"github.com/halcyonlabs/remindcal/backend/internal/reminders"
	"github.com/halcyonlabs/remindcal/backend/internal/rules"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"gorm.io/gorm"
)

var testLocation = time.FixedZone("UTC+8", 8*3600)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type sentNotification struct {
	Endpoint string
	Payload  push.Payload
}

// fakeSender records deliveries and fails endpoints listed in errs.
type fakeSender struct {
	sent []sentNotification
	errs map[string]error
}

func (s *fakeSender) Send(ctx context.Context, subscription push.Subscription, payload push.Payload) error {
	if err, ok := s.errs[subscription.Endpoint]; ok {
		return err
	}
	s.sent = append(s.sent, sentNotification{Endpoint: subscription.Endpoint, Payload: payload})
	return nil
}

type dispatcherFixture struct {
	service *Service
	sender  *fakeSender
	db      *gorm.DB
	now     time.Time
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:remindcal_sched_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&users.User{}, &events.Event{}, &rules.Rule{}, &reminders.Job{}, &push.Subscription{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	remindersService, err := reminders.NewService(reminders.ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: []string{"spare-1", "spare-2"}},
		Location:   testLocation,
	})
	if err != nil {
		t.Fatalf("failed to construct reminders service: %v", err)
	}

	subscriptions, err := push.NewService(push.ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: []string{"spare-sub"}},
	})
	if err != nil {
		t.Fatalf("failed to construct push service: %v", err)
	}

	now := time.Date(2025, time.June, 19, 12, 0, 0, 0, testLocation)
	sender := &fakeSender{errs: map[string]error{}}
	service, err := NewService(ServiceConfig{
		Database:      db,
		Reminders:     remindersService,
		Subscriptions: subscriptions,
		Sender:        sender,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to construct dispatcher: %v", err)
	}

	return &dispatcherFixture{service: service, sender: sender, db: db, now: now}
}

func (f *dispatcherFixture) seedUser(t *testing.T, userID string) {
	t.Helper()
	user := users.User{UserID: userID, Email: userID + "@example.com", PasswordHash: "x"}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func (f *dispatcherFixture) seedEvent(t *testing.T, event events.Event) {
	t.Helper()
	if err := f.db.Create(&event).Error; err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
}

func (f *dispatcherFixture) seedDueJob(t *testing.T, jobID, userID, eventID string) {
	t.Helper()
	job := reminders.Job{
		JobID:           jobID,
		UserID:          userID,
		EventID:         eventID,
		FireTimeSeconds: f.now.Add(-time.Hour).Unix(),
	}
	if err := f.db.Create(&job).Error; err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
}

func (f *dispatcherFixture) seedSubscription(t *testing.T, subscriptionID, userID, endpoint string) {
	t.Helper()
	subscription := push.Subscription{
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Endpoint:       endpoint,
		P256dh:         "p256dh-key",
		Auth:           "auth-key",
	}
	if err := f.db.Create(&subscription).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}
}

func (f *dispatcherFixture) jobSent(t *testing.T, jobID string) bool {
	t.Helper()
	var job reminders.Job
	if err := f.db.Where("job_id = ?", jobID).Take(&job).Error; err != nil {
		t.Fatalf("failed to load job: %v", err)
	}
	return job.Sent
}

func TestRunDispatchesDueJob(t *testing.T) {
	fixture := newDispatcherFixture(t)
	fixture.seedUser(t, "user-1")
	fixture.seedEvent(t, events.Event{EventID: "event-1", UserID: "user-1", Title: "Dentist", Date: "2025-06-20"})
	fixture.seedDueJob(t, "job-1", "user-1", "event-1")
	fixture.seedSubscription(t, "sub-1", "user-1", "https://push.example.com/sub-1")

	result, err := fixture.service.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 processed job, got %d", result.Processed)
	}
	if len(fixture.sender.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(fixture.sender.sent))
	}

	delivery := fixture.sender.sent[0]
	if delivery.Payload.Body != "Dentist - 2025-06-20" {
		t.Fatalf("unexpected payload body: %q", delivery.Payload.Body)
	}
	if delivery.Payload.Data.EventID != "event-1" {
		t.Fatalf("unexpected payload event id: %q", delivery.Payload.Data.EventID)
	}
	if delivery.Payload.Data.URL != "/calendar?event=event-1" {
		t.Fatalf("unexpected payload url: %q", delivery.Payload.Data.URL)
	}
	if !fixture.jobSent(t, "job-1") {
		t.Fatalf("expected job marked sent")
	}
}

func TestRunSkipsEventCompletedAfterScan(t *testing.T) {
	fixture := newDispatcherFixture(t)
	fixture.seedUser(t, "user-1")
	fixture.seedEvent(t, events.Event{EventID: "event-1", UserID: "user-1", Title: "Dentist", Date: "2025-06-20", Completed: true})
	fixture.seedDueJob(t, "job-1", "user-1", "event-1")
	fixture.seedSubscription(t, "sub-1", "user-1", "https://push.example.com/sub-1")

	if _, err := fixture.service.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fixture.sender.sent) != 0 {
		t.Fatalf("expected no delivery for completed event, got %d", len(fixture.sender.sent))
	}
	if !fixture.jobSent(t, "job-1") {
		t.Fatalf("expected stale job spent")
	}
}

func TestRunSpendsJobWithoutSubscriptions(t *testing.T) {
	fixture := newDispatcherFixture(t)
	fixture.seedUser(t, "user-1")
	fixture.seedEvent(t, events.Event{EventID: "event-1", UserID: "user-1", Title: "Dentist", Date: "2025-06-20"})
	fixture.seedDueJob(t, "job-1", "user-1", "event-1")

	if _, err := fixture.service.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fixture.sender.sent) != 0 {
		t.Fatalf("expected no delivery without subscriptions")
	}
	if !fixture.jobSent(t, "job-1") {
		t.Fatalf("expected job spent with no registered device")
	}
}

func TestRunDropsGoneSubscriptionAndKeepsOthers(t *testing.T) {
	fixture := newDispatcherFixture(t)
	fixture.seedUser(t, "user-1")
	fixture.seedEvent(t, events.Event{EventID: "event-1", UserID: "user-1", Title: "Dentist", Date: "2025-06-20"})
	fixture.seedDueJob(t, "job-1", "user-1", "event-1")
	fixture.seedSubscription(t, "sub-gone", "user-1", "https://push.example.com/gone")
	fixture.seedSubscription(t, "sub-live", "user-1", "https://push.example.com/live")
	fixture.sender.errs["https://push.example.com/gone"] = &push.DeliveryError{
		StatusCode: http.StatusGone,
		Endpoint:   "https://push.example.com/gone",
	}

	if _, err := fixture.service.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fixture.sender.sent) != 1 || fixture.sender.sent[0].Endpoint != "https://push.example.com/live" {
		t.Fatalf("expected delivery to the live endpoint only: %+v", fixture.sender.sent)
	}

	var remaining []push.Subscription
	if err := fixture.db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to load subscriptions: %v", err)
	}
	if len(remaining) != 1 || remaining[0].SubscriptionID != "sub-live" {
		t.Fatalf("expected the gone subscription dropped: %+v", remaining)
	}
	if !fixture.jobSent(t, "job-1") {
		t.Fatalf("expected job spent after fan-out")
	}
}

func TestRunKeepsSubscriptionOnTransientFailure(t *testing.T) {
	fixture := newDispatcherFixture(t)
	fixture.seedUser(t, "user-1")
	fixture.seedEvent(t, events.Event{EventID: "event-1", UserID: "user-1", Title: "Dentist", Date: "2025-06-20"})
	fixture.seedDueJob(t, "job-1", "user-1", "event-1")
	fixture.seedSubscription(t, "sub-1", "user-1", "https://push.example.com/sub-1")
	fixture.sender.errs["https://push.example.com/sub-1"] = &push.DeliveryError{
		StatusCode: http.StatusBadGateway,
		Endpoint:   "https://push.example.com/sub-1",
	}

	if _, err := fixture.service.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var remaining []push.Subscription
	if err := fixture.db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to load subscriptions: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("transient failure must not drop the subscription")
	}
	// Delivery is at most once: the job is spent even though delivery failed.
	if !fixture.jobSent(t, "job-1") {
		t.Fatalf("expected job spent")
	}
}

func TestRunProcessesRemainingJobsAfterFailure(t *testing.T) {
	fixture := newDispatcherFixture(t)
	fixture.seedUser(t, "user-1")
	fixture.seedUser(t, "user-2")
	fixture.seedEvent(t, events.Event{EventID: "event-1", UserID: "user-1", Title: "First", Date: "2025-06-20"})
	fixture.seedEvent(t, events.Event{EventID: "event-2", UserID: "user-2", Title: "Second", Date: "2025-06-21"})
	fixture.seedDueJob(t, "job-1", "user-1", "event-1")
	fixture.seedDueJob(t, "job-2", "user-2", "event-2")
	fixture.seedSubscription(t, "sub-1", "user-1", "https://push.example.com/sub-1")
	fixture.seedSubscription(t, "sub-2", "user-2", "https://push.example.com/sub-2")
	fixture.sender.errs["https://push.example.com/sub-1"] = errors.New("network unreachable")

	result, err := fixture.service.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected both jobs processed, got %d", result.Processed)
	}
	if len(fixture.sender.sent) != 1 || fixture.sender.sent[0].Endpoint != "https://push.example.com/sub-2" {
		t.Fatalf("expected the second job delivered: %+v", fixture.sender.sent)
	}
	if !fixture.jobSent(t, "job-1") || !fixture.jobSent(t, "job-2") {
		t.Fatalf("expected both jobs spent")
	}
}

func TestRunDeliversAtMostOnce(t *testing.T) {
	fixture := newDispatcherFixture(t)
	fixture.seedUser(t, "user-1")
	fixture.seedEvent(t, events.Event{EventID: "event-1", UserID: "user-1", Title: "Dentist", Date: "2025-06-20"})
	fixture.seedDueJob(t, "job-1", "user-1", "event-1")
	fixture.seedSubscription(t, "sub-1", "user-1", "https://push.example.com/sub-1")

	if _, err := fixture.service.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := fixture.service.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected second run to find nothing, got %d", result.Processed)
	}
	if len(fixture.sender.sent) != 1 {
		t.Fatalf("expected exactly one delivery across runs, got %d", len(fixture.sender.sent))
	}
}
