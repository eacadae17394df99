package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// EventAPI lets a host shell deliver transport callbacks directly, without Pub/Sub.
type EventAPI struct {
	Handler pipeline.EventHandler
	Logger  *slog.Logger
}

func NewEventAPI(handler pipeline.EventHandler, logger *slog.Logger) *EventAPI {
	return &EventAPI{
		Handler: handler,
		Logger:  logger.With("component", "EventAPI"),
	}
}

type RefreshTokenRequest struct {
	Token string `json:"token"`
}

func (api *EventAPI) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Handler.OnTokenRefresh(r.Context(), req.Token); err != nil {
		if errors.Is(err, bridge.ErrEmptyToken) {
			response.WriteJSONError(w, http.StatusBadRequest, "missing token")
			return
		}
		api.Logger.Error("Token refresh failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeliverMessage accepts the message for display. Delivery is best effort,
// so the response is 202 whether or not anything was rendered.
func (api *EventAPI) DeliverMessage(w http.ResponseWriter, r *http.Request) {
	var payload bridge.MessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	api.Handler.OnMessage(r.Context(), payload)
	w.WriteHeader(http.StatusAccepted)
}
