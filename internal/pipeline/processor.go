package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// EventHandler is the subset of events.Handler the processor routes to.
type EventHandler interface {
	OnTokenRefresh(ctx context.Context, token string) error
	OnMessage(ctx context.Context, payload bridge.MessagePayload)
}

// NewProcessor routes each event to the handler. A failed token write is
// returned so the message is redelivered; message events are always acked.
func NewProcessor(handler EventHandler, logger *slog.Logger) messagepipeline.StreamProcessor[bridge.PushEvent] {
	return func(ctx context.Context, original messagepipeline.Message, event *bridge.PushEvent) error {
		procLogger := logger.With(
			"event_id", event.ID,
			"event_type", string(event.Type),
			"pubsub_msg_id", original.ID,
		)

		switch event.Type {
		case bridge.EventTokenRefresh:
			if err := handler.OnTokenRefresh(ctx, event.Token); err != nil {
				procLogger.Error("Token refresh failed", "err", err)
				return err
			}
		case bridge.EventMessage:
			var payload bridge.MessagePayload
			if event.Message != nil {
				payload = *event.Message
			}
			handler.OnMessage(ctx, payload)
		default:
			procLogger.Warn("Ignoring unroutable event")
		}
		return nil
	}
}
