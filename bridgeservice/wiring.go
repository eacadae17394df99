package bridgeservice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-push-bridge/internal/events"
	"github.com/tinywideclouds/go-push-bridge/internal/render"
	"github.com/tinywideclouds/go-push-bridge/internal/render/apns"
	"github.com/tinywideclouds/go-push-bridge/internal/render/fcm"
	"github.com/tinywideclouds/go-push-bridge/internal/render/socket"
	"github.com/tinywideclouds/go-push-bridge/internal/render/web"
	"github.com/tinywideclouds/go-push-bridge/internal/storage"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/backend"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/cache"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// BuildStore opens the durable backend, optionally fronts it with Redis,
// and serialises access: Serialized(Cached(Durable)).
func BuildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...option.ClientOption) (*storage.SerializedStore, func() error, error) {
	durable, closeStore, err := backend.Open(ctx, cfg.Store, logger, opts...)
	if err != nil {
		return nil, nil, err
	}

	var store bridge.TokenStore = durable
	closers := []func() error{closeStore}

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = closeStore()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, redisClient.Close)
		store = cache.NewCachedTokenStore(store, redisClient, cfg.Store.Namespace, cfg.Redis.TTL, logger)
		logger.Info("TokenStore upgraded", "type", "redis_cached_"+string(cfg.Store.Kind))
	}

	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	return storage.NewSerializedStore(store), closeAll, nil
}

// Profile resolves the presentation profile, filling unset fields from the default.
func Profile(cfg *config.Config) render.Profile {
	appName := cfg.AppName
	if appName == "" {
		appName = events.DefaultAppName
	}
	p := render.DefaultProfile(appName)
	if cfg.Render.ChannelID != "" {
		p.Channel.ID = cfg.Render.ChannelID
	}
	if cfg.Render.ChannelName != "" {
		p.Channel.Name = cfg.Render.ChannelName
	}
	if cfg.Render.SlotID != "" {
		p.SlotID = cfg.Render.SlotID
	}
	return p
}

// BuildRenderers creates every enabled surface behind one Fanout. fcmClient
// is only used when FCM is enabled. The hub is nil unless the socket surface is on.
func BuildRenderers(cfg *config.Config, fcmClient fcm.MessagingClient, logger *slog.Logger) (*render.Fanout, *socket.Hub, error) {
	profile := Profile(cfg)
	if err := profile.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid render profile: %w", err)
	}
	renderers := make(map[string]bridge.Renderer)

	if cfg.Render.FCM.Enabled {
		if fcmClient == nil {
			return nil, nil, errors.New("fcm enabled without a messaging client")
		}
		r, err := fcm.NewRenderer(fcmClient, fcm.Target{Token: cfg.Render.FCM.Token, Topic: cfg.Render.FCM.Topic}, profile, logger)
		if err != nil {
			return nil, nil, err
		}
		renderers["fcm"] = r
	}

	if a := cfg.Render.APNS; a.Enabled {
		r, err := apns.NewRenderer(apns.Config{
			KeyID:        a.KeyID,
			TeamID:       a.TeamID,
			BundleID:     a.BundleID,
			P8KeyContent: a.P8KeyContent,
			DeviceToken:  a.DeviceToken,
			Sandbox:      a.Sandbox,
		}, profile, logger)
		if err != nil {
			return nil, nil, err
		}
		renderers["apns"] = r
	}

	if w := cfg.Render.Web; w.Enabled {
		sub, err := webSubscription(w)
		if err != nil {
			return nil, nil, err
		}
		renderers["web"] = web.NewRenderer(web.VapidKeys{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, sub, profile, nil, logger)
		logger.Info("Web renderer enabled", "public_key", cfg.Vapid.PublicKey)
	}

	var hub *socket.Hub
	if cfg.Render.Socket.Enabled {
		hub = socket.NewHub(profile, cfg.CorsConfig.AllowedOrigins, logger)
		renderers["socket"] = hub
	}

	if len(renderers) == 0 {
		logger.Warn("No render surfaces enabled; messages will be dropped.")
	}
	return render.NewFanout(renderers, logger), hub, nil
}

func webSubscription(w config.WebPushConfig) (notification.WebPushSubscription, error) {
	p256dh, err := base64.RawURLEncoding.DecodeString(w.P256dh)
	if err != nil {
		return notification.WebPushSubscription{}, fmt.Errorf("invalid web push p256dh key: %w", err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(w.Auth)
	if err != nil {
		return notification.WebPushSubscription{}, fmt.Errorf("invalid web push auth secret: %w", err)
	}
	sub := notification.WebPushSubscription{Endpoint: w.Endpoint}
	sub.Keys.P256dh = p256dh
	sub.Keys.Auth = auth
	return sub, nil
}
