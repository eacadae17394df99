// Package pipeline adapts the push-event subscription to the event handler.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// PushEventTransformer unmarshals and validates a raw message into a
// bridge.PushEvent. Unusable messages are skipped with an error so the
// StreamingService can apply its Nack/DLQ policy.
func PushEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*bridge.PushEvent, bool, error) {
	var event bridge.PushEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push event from message %s: %w", msg.ID, err)
	}

	switch event.Type {
	case bridge.EventTokenRefresh:
		if event.Token == "" {
			return nil, true, fmt.Errorf("message %s: %w", msg.ID, bridge.ErrEmptyToken)
		}
	case bridge.EventMessage:
		if event.Message == nil {
			event.Message = &bridge.MessagePayload{}
		}
	default:
		return nil, true, fmt.Errorf("message %s: unknown push event type %q", msg.ID, event.Type)
	}

	if event.ID == "" {
		event.ID = msg.ID
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	return &event, false, nil
}
