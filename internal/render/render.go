// Package render turns display requests into user-visible notifications.
// Every surface shares one Profile: a single high-priority channel and one
// stable slot id, so a newer notification replaces the visible one.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// Importance mirrors the channel importance levels of the mobile platforms.
type Importance string

const (
	ImportanceDefault Importance = "default"
	ImportanceHigh    Importance = "high"
)

const (
	DefaultChannelID = "push_bridge_alerts"
	DefaultSlotID    = "push-bridge-slot"
)

// Channel is the notification channel/category a notification is posted to.
type Channel struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Importance  Importance `json:"importance"`
	Sound       bool       `json:"sound"`
	Vibrate     bool       `json:"vibrate"`
}

// Profile is the presentation shared by all renderers.
type Profile struct {
	Channel Channel
	// SlotID is reused for every notification so they collapse into one.
	SlotID string
}

// DefaultProfile is the high-priority, audible, vibrating profile.
func DefaultProfile(appName string) Profile {
	return Profile{
		Channel: Channel{
			ID:          DefaultChannelID,
			Name:        appName,
			Description: appName + " alerts",
			Importance:  ImportanceHigh,
			Sound:       true,
			Vibrate:     true,
		},
		SlotID: DefaultSlotID,
	}
}

func (p Profile) Validate() error {
	if p.Channel.ID == "" {
		return errors.New("channel id is required")
	}
	if p.Channel.Name == "" {
		return errors.New("channel name is required")
	}
	if p.SlotID == "" {
		return errors.New("slot id is required")
	}
	return nil
}

// Content converts a display request to the platform content type.
func Content(req bridge.NotificationRequest) notification.NotificationContent {
	return notification.NotificationContent{
		Title: req.Title,
		Body:  req.Body,
	}
}

// ChannelGuard runs a channel setup function until it succeeds once.
type ChannelGuard struct {
	mu      sync.Mutex
	ensured bool
}

// Ensure calls fn unless a previous call already succeeded.
func (g *ChannelGuard) Ensure(ctx context.Context, fn func(context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensured {
		return nil
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("ensure channel: %w", err)
	}
	g.ensured = true
	return nil
}

// Fanout renders each request on every configured surface.
type Fanout struct {
	renderers map[string]bridge.Renderer
	logger    *slog.Logger
}

var _ bridge.Renderer = (*Fanout)(nil)

func NewFanout(renderers map[string]bridge.Renderer, logger *slog.Logger) *Fanout {
	return &Fanout{
		renderers: renderers,
		logger:    logger.With("component", "RenderFanout"),
	}
}

// Render tries every surface; one failing surface does not stop the others.
func (f *Fanout) Render(ctx context.Context, req bridge.NotificationRequest) error {
	if len(f.renderers) == 0 {
		f.logger.Info("No render surfaces configured; dropping notification.")
		return nil
	}

	var errs []error
	for name, r := range f.renderers {
		if err := r.Render(ctx, req); err != nil {
			f.logger.Warn("Surface failed to render", "surface", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		f.logger.Debug("Rendered", "surface", name)
	}
	return errors.Join(errs...)
}
