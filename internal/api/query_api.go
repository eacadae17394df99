// Package api exposes the token query service and the event entry points over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-bridge/internal/query"
)

// QueryAPI answers consumers that poll for the token. Results are always
// written with 200; success=false carries the reason.
type QueryAPI struct {
	Service *query.Service
	Logger  *slog.Logger
}

func NewQueryAPI(service *query.Service, logger *slog.Logger) *QueryAPI {
	return &QueryAPI{
		Service: service,
		Logger:  logger.With("component", "QueryAPI"),
	}
}

func (api *QueryAPI) GetToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Service.QueryToken(r.Context()), api.Logger)
}

func (api *QueryAPI) GetSyncState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Service.SyncState(r.Context()), api.Logger)
}

// AckSyncRequest optionally names the token the caller synchronised.
type AckSyncRequest struct {
	Token string `json:"token,omitempty"`
}

func (api *QueryAPI) AckSync(w http.ResponseWriter, r *http.Request) {
	var req AckSyncRequest
	// An empty body acknowledges whatever token is stored.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	writeJSON(w, http.StatusOK, api.Service.AcknowledgeSync(r.Context(), req.Token), api.Logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "err", err)
	}
}
