// Package bridgeservice assembles the push bridge: the Pub/Sub ingestion
// pipeline, the HTTP query/event API and the optional websocket surface.
package bridgeservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-push-bridge/internal/api"
	"github.com/tinywideclouds/go-push-bridge/internal/events"
	"github.com/tinywideclouds/go-push-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-push-bridge/internal/query"
	"github.com/tinywideclouds/go-push-bridge/internal/render/socket"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[bridge.PushEvent]
	handler         *events.Handler
	logger          *slog.Logger
}

// New assembles the service. consumer and hub may be nil: without a consumer
// events only arrive over the HTTP event API.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	store bridge.AtomicTokenStore,
	renderer bridge.Renderer,
	hub *socket.Hub,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	handler := events.NewHandler(store, renderer, cfg.AppName, logger)

	var streamingService *messagepipeline.StreamingService[bridge.PushEvent]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.PushEventTransformer,
			pipeline.NewProcessor(handler, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	queryAPI := api.NewQueryAPI(query.NewService(store, logger), logger)
	eventAPI := api.NewEventAPI(handler, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Token query (consumer side)
	handle("GET /api/v1/token", queryAPI.GetToken)
	handle("GET /api/v1/token/sync", queryAPI.GetSyncState)
	handle("POST /api/v1/token/sync/ack", queryAPI.AckSync)

	// Transport callbacks (host-shell side)
	handle("POST /api/v1/events/token", eventAPI.RefreshToken)
	handle("POST /api/v1/events/message", eventAPI.DeliverMessage)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// Browsers cannot set auth headers on a websocket handshake; the hub checks Origin.
	if hub != nil {
		mux.Handle("GET /ws", hub)
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		handler:         handler,
		logger:          logger,
	}, nil
}

// Handler exposes the event entry points for in-process transports.
func (w *Wrapper) Handler() *events.Handler {
	return w.handler
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	} else {
		w.logger.Info("No subscription configured; events arrive over HTTP only.")
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
