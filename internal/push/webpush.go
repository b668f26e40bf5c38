package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultRecordTTL   = 60
)

var (
	errMissingVAPIDKeys    = errors.New("web push sender: VAPID key pair required")
	errMissingVAPIDSubject = errors.New("web push sender: VAPID subject required")
)

// WebPushSenderConfig configures the VAPID-authenticated web push transport.
type WebPushSenderConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	SendTimeout     time.Duration
}

// WebPushSender delivers notifications over the Web Push protocol.
type WebPushSender struct {
	publicKey   string
	privateKey  string
	subject     string
	sendTimeout time.Duration
	client      *http.Client
}

// NewWebPushSender constructs a sender with the provided VAPID credentials.
func NewWebPushSender(cfg WebPushSenderConfig) (*WebPushSender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errMissingVAPIDKeys
	}
	if cfg.Subject == "" {
		return nil, errMissingVAPIDSubject
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &WebPushSender{
		publicKey:   cfg.VAPIDPublicKey,
		privateKey:  cfg.VAPIDPrivateKey,
		subject:     cfg.Subject,
		sendTimeout: timeout,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Send encrypts and posts the payload to the subscription's endpoint. A
// rejection status is surfaced as a DeliveryError so callers can distinguish
// permanently gone endpoints (410) from transient failures.
func (s *WebPushSender) Send(ctx context.Context, subscription Subscription, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	response, err := webpush.SendNotificationWithContext(sendCtx, body, &webpush.Subscription{
		Endpoint: subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: subscription.P256dh,
			Auth:   subscription.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subject,
		TTL:             defaultRecordTTL,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
	})
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return &DeliveryError{StatusCode: response.StatusCode, Endpoint: subscription.Endpoint}
	}
	return nil
}
