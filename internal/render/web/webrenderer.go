// Package web renders notifications to a browser through the Web Push protocol.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-bridge/internal/render"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// ErrSubscriptionGone is returned on 404/410: the browser dropped the subscription.
var ErrSubscriptionGone = errors.New("web push subscription gone")

// VapidKeys identify this sender to the push service.
type VapidKeys struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Renderer struct {
	keys       VapidKeys
	sub        notification.WebPushSubscription
	profile    render.Profile
	channel    render.ChannelGuard
	httpClient *http.Client
	logger     *slog.Logger
}

var _ bridge.Renderer = (*Renderer)(nil)

func NewRenderer(keys VapidKeys, sub notification.WebPushSubscription, profile render.Profile, httpClient *http.Client, logger *slog.Logger) *Renderer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Renderer{
		keys:       keys,
		sub:        sub,
		profile:    profile,
		httpClient: httpClient,
		logger:     logger.With("component", "WebPushRenderer"),
	}
}

// Payload is what the service worker receives. It shows notification with
// tag=slot and renotify so the newest replaces the visible one.
type Payload struct {
	Notification PayloadNotification `json:"notification"`
	Channel      render.Channel      `json:"channel"`
}

type PayloadNotification struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Tag      string `json:"tag"`
	Renotify bool   `json:"renotify"`
	Silent   bool   `json:"silent"`
	Vibrate  []int  `json:"vibrate,omitempty"`
}

func (r *Renderer) Render(ctx context.Context, req bridge.NotificationRequest) error {
	if err := r.channel.Ensure(ctx, r.ensureChannel); err != nil {
		return err
	}

	content := render.Content(req)
	p := Payload{
		Notification: PayloadNotification{
			Title:    content.Title,
			Body:     content.Body,
			Tag:      r.profile.SlotID,
			Renotify: true,
			Silent:   !r.profile.Channel.Sound,
		},
		Channel: r.profile.Channel,
	}
	if r.profile.Channel.Vibrate {
		p.Notification.Vibrate = []int{200, 100, 200}
	}
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	urgency := webpush.UrgencyNormal
	if r.profile.Channel.Importance == render.ImportanceHigh {
		urgency = webpush.UrgencyHigh
	}

	s := &webpush.Subscription{
		Endpoint: r.sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(r.sub.Keys.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(r.sub.Keys.Auth),
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, s, &webpush.Options{
		Subscriber:      r.keys.SubscriberEmail,
		VAPIDPublicKey:  r.keys.PublicKey,
		VAPIDPrivateKey: r.keys.PrivateKey,
		TTL:             60,
		Topic:           r.profile.SlotID,
		Urgency:         urgency,
		HTTPClient:      r.httpClient,
	})
	if err != nil {
		return fmt.Errorf("web push transport failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusGone, http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrSubscriptionGone, resp.StatusCode)
	default:
		r.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", r.sub.Endpoint)
		return fmt.Errorf("web push rejected: status %d", resp.StatusCode)
	}
}

// The channel travels in every payload; the service worker applies it.
func (r *Renderer) ensureChannel(context.Context) error {
	if r.sub.Endpoint == "" {
		return errors.New("web push subscription has no endpoint")
	}
	return r.profile.Validate()
}
