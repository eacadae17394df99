// Package fcm renders notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-bridge/internal/render"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Target is the FCM destination. Exactly one of Token or Topic is set.
type Target struct {
	Token string
	Topic string
}

type Renderer struct {
	client  MessagingClient
	target  Target
	profile render.Profile
	channel render.ChannelGuard
	logger  *slog.Logger
}

var _ bridge.Renderer = (*Renderer)(nil)

func NewRenderer(client MessagingClient, target Target, profile render.Profile, logger *slog.Logger) (*Renderer, error) {
	if (target.Token == "") == (target.Topic == "") {
		return nil, errors.New("fcm target needs exactly one of token or topic")
	}
	return &Renderer{
		client:  client,
		target:  target,
		profile: profile,
		logger:  logger.With("component", "FCMRenderer"),
	}, nil
}

// Render posts the notification into the shared slot on the high-priority channel.
func (r *Renderer) Render(ctx context.Context, req bridge.NotificationRequest) error {
	if err := r.channel.Ensure(ctx, r.ensureChannel); err != nil {
		return err
	}

	msgID, err := r.client.Send(ctx, r.buildMessage(req))
	if err != nil {
		if messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err) {
			r.logger.Error("FCM rejected target", "err", err)
			return fmt.Errorf("fcm target rejected: %w", err)
		}
		return fmt.Errorf("fcm transport failed: %w", err)
	}

	r.logger.Debug("FCM notification sent", "message_id", msgID)
	return nil
}

// The device creates the channel from the id carried in each message, so
// ensuring it here amounts to checking the profile once.
func (r *Renderer) ensureChannel(context.Context) error {
	if err := r.profile.Validate(); err != nil {
		return err
	}
	r.logger.Info("Notification channel ready", "channel_id", r.profile.Channel.ID)
	return nil
}

func (r *Renderer) buildMessage(req bridge.NotificationRequest) *messaging.Message {
	content := render.Content(req)
	ch := r.profile.Channel

	// Delivery priority and notification priority both follow the channel.
	deliveryPriority, androidPriority := "normal", messaging.PriorityDefault
	if ch.Importance == render.ImportanceHigh {
		deliveryPriority, androidPriority = "high", messaging.PriorityHigh
	}

	return &messaging.Message{
		Token: r.target.Token,
		Topic: r.target.Topic,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority:    deliveryPriority,
			CollapseKey: r.profile.SlotID,
			Notification: &messaging.AndroidNotification{
				ChannelID:             ch.ID,
				Tag:                   r.profile.SlotID,
				Priority:              androidPriority,
				DefaultSound:          ch.Sound,
				DefaultVibrateTimings: ch.Vibrate,
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title:    content.Title,
				Body:     content.Body,
				Tag:      r.profile.SlotID,
				Renotify: true,
			},
		},
	}
}
