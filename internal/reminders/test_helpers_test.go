package reminders

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/halcyonlabs/remindcal/backend/internal/events"
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

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:remindcal_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &events.Event{}, &rules.Rule{}, &Job{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
		Location:   testLocation,
	})
	if err != nil {
		t.Fatalf("failed to construct reminders service: %v", err)
	}

	return service, db
}

func strPtr(value string) *string {
	return &value
}

func seedRule(t *testing.T, db *gorm.DB, rule rules.Rule) {
	t.Helper()
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}
}

func seedEvent(t *testing.T, db *gorm.DB, event events.Event) {
	t.Helper()
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
}

func loadJobs(t *testing.T, db *gorm.DB, eventID string) []Job {
	t.Helper()
	var jobs []Job
	if err := db.Where("event_id = ?", eventID).Order("fire_time_s ASC").Find(&jobs).Error; err != nil {
		t.Fatalf("failed to load jobs: %v", err)
	}
	return jobs
}
