// Package apns renders notifications through the Apple Push Notification Service.
package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-bridge/internal/render"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// ErrDeadToken is returned when APNs reports the device token as unusable.
var ErrDeadToken = errors.New("apns device token rejected")

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	DeviceToken  string
	Sandbox      bool
}

type Renderer struct {
	client      APNSClient
	topic       string
	deviceToken string
	profile     render.Profile
	channel     render.ChannelGuard
	logger      *slog.Logger
}

var _ bridge.Renderer = (*Renderer)(nil)

// NewRenderer parses the P8 key immediately so bad credentials fail at startup.
func NewRenderer(cfg Config, profile render.Profile, logger *slog.Logger) (*Renderer, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newRenderer(client, cfg.BundleID, cfg.DeviceToken, profile, logger)
}

func newRenderer(client APNSClient, topic, deviceToken string, profile render.Profile, logger *slog.Logger) (*Renderer, error) {
	if deviceToken == "" {
		return nil, errors.New("apns device token is required")
	}
	return &Renderer{
		client:      client,
		topic:       topic,
		deviceToken: deviceToken,
		profile:     profile,
		logger:      logger.With("component", "APNSRenderer"),
	}, nil
}

// Render sends one alert. CollapseID keeps only the newest in the slot.
func (r *Renderer) Render(ctx context.Context, req bridge.NotificationRequest) error {
	if err := r.channel.Ensure(ctx, r.ensureChannel); err != nil {
		return err
	}

	content := render.Content(req)
	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body).
		ThreadID(r.profile.Channel.ID)
	if r.profile.Channel.Sound {
		builder = builder.Sound("default")
	}

	priority := apns2.PriorityLow
	if r.profile.Channel.Importance == render.ImportanceHigh {
		priority = apns2.PriorityHigh
	}

	res, err := r.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: r.deviceToken,
		Topic:       r.topic,
		CollapseID:  r.profile.SlotID,
		Priority:    priority,
		PushType:    apns2.PushTypeAlert,
		Payload:     builder,
	})
	if err != nil {
		return fmt.Errorf("apns transport failed: %w", err)
	}

	if res.Sent() {
		r.logger.Debug("APNs notification sent", "apns_id", res.ApnsID)
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return fmt.Errorf("%w: %s", ErrDeadToken, res.Reason)
	default:
		r.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
}

// iOS has no channel object; the thread id groups alerts instead.
func (r *Renderer) ensureChannel(context.Context) error {
	if err := r.profile.Validate(); err != nil {
		return err
	}
	r.logger.Info("Notification thread ready", "thread_id", r.profile.Channel.ID)
	return nil
}
