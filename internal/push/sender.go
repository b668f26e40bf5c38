package push

import (
	"context"
	"fmt"
	"net/http"
)

// NotificationData is the structured payload attached to a notification for
// the service worker to deep-link back to the originating event.
type NotificationData struct {
	EventID string `json:"eventId"`
	URL     string `json:"url"`
}

// Payload is the notification content delivered to one subscription.
type Payload struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Data  NotificationData `json:"data"`
}

// Sender delivers a payload to a single subscription. Implementations apply
// their own transport timeout; a delivery never blocks indefinitely.
type Sender interface {
	Send(ctx context.Context, subscription Subscription, payload Payload) error
}

// NoOpSender discards every payload. Installed when VAPID keys are not
// configured so the dispatcher can still drain due jobs.
type NoOpSender struct{}

func (NoOpSender) Send(ctx context.Context, subscription Subscription, payload Payload) error {
	return nil
}

// DeliveryError is a push delivery rejection carrying the transport status.
type DeliveryError struct {
	StatusCode int
	Endpoint   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push delivery to %s rejected with status %d", e.Endpoint, e.StatusCode)
}

// Permanent reports whether the endpoint is gone for good and its
// subscription should be dropped.
func (e *DeliveryError) Permanent() bool {
	return e.StatusCode == http.StatusGone
}
