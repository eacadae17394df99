// Package events receives token-refresh and message-delivery callbacks from the
// push transport. It is the only writer of the token store.
package events

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// DefaultAppName is used as the title when a message carries none.
const DefaultAppName = "Teamtegrate"

// Handler implements the transport-facing entry points.
type Handler struct {
	store    bridge.TokenStore
	renderer bridge.Renderer
	appName  string
	logger   *slog.Logger
}

// NewHandler wires the handler to its store and rendering collaborator.
// An empty appName falls back to DefaultAppName.
func NewHandler(store bridge.TokenStore, renderer bridge.Renderer, appName string, logger *slog.Logger) *Handler {
	if appName == "" {
		appName = DefaultAppName
	}
	return &Handler{
		store:    store,
		renderer: renderer,
		appName:  appName,
		logger:   logger.With("component", "EventHandler"),
	}
}

// OnTokenRefresh replaces the stored record with {token, needsSync: true}.
// Duplicate deliveries of the same token write an identical record.
func (h *Handler) OnTokenRefresh(ctx context.Context, token string) error {
	if token == "" {
		h.logger.Warn("Dropping refresh event without token")
		return bridge.ErrEmptyToken
	}

	record := bridge.TokenRecord{Token: token, NeedsSync: true}
	if err := h.store.Put(ctx, record); err != nil {
		h.logger.Error("Failed to persist refreshed token", "err", err)
		return err
	}

	h.logger.Info("Registration token refreshed", "token_suffix", suffix(token))
	return nil
}

// OnMessage builds a display request and hands it to the renderer. Messages
// without a body are dropped silently; render failures are logged only,
// since the transport has no error channel.
func (h *Handler) OnMessage(ctx context.Context, payload bridge.MessagePayload) {
	req, err := BuildNotification(payload, h.appName)
	if err != nil {
		h.logger.Debug("Dropping message without body")
		return
	}

	if err := h.renderer.Render(ctx, req); err != nil {
		h.logger.Warn("Render failed", "err", err)
	}
}

// BuildNotification applies the title/body precedence: a structured
// notification with any content wins outright; otherwise data["title"] and
// data["body"] are used. A missing title becomes defaultTitle.
func BuildNotification(payload bridge.MessagePayload, defaultTitle string) (bridge.NotificationRequest, error) {
	var title, body string
	if !payload.Notification.IsEmpty() {
		title, body = payload.Notification.Title, payload.Notification.Body
	} else if payload.Data != nil {
		title, body = payload.Data["title"], payload.Data["body"]
	}

	if body == "" {
		return bridge.NotificationRequest{}, bridge.ErrMalformedMessage
	}
	if title == "" {
		title = defaultTitle
	}
	return bridge.NotificationRequest{Title: title, Body: body}, nil
}

// suffix keeps tokens out of the logs.
func suffix(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return "..." + token[len(token)-6:]
}
