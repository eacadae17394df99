// Package config holds the push bridge service configuration: YAML mapping,
// environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/backend"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string `validate:"required_if=Enabled true"`
	Password string
	DB       int `validate:"min=0"`
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type FCMConfig struct {
	Enabled bool
	// Exactly one of Token or Topic when enabled.
	Token           string
	Topic           string
	CredentialsFile string
}

type APNSConfig struct {
	Enabled      bool
	KeyID        string `validate:"required_if=Enabled true"`
	TeamID       string `validate:"required_if=Enabled true"`
	BundleID     string `validate:"required_if=Enabled true"`
	P8KeyContent string `validate:"required_if=Enabled true"`
	DeviceToken  string `validate:"required_if=Enabled true"`
	Sandbox      bool
}

// WebPushConfig is the one browser subscription to render to. Keys are
// base64url, as the browser's PushSubscription.toJSON emits them.
type WebPushConfig struct {
	Enabled  bool
	Endpoint string `validate:"required_if=Enabled true"`
	P256dh   string `validate:"required_if=Enabled true"`
	Auth     string `validate:"required_if=Enabled true"`
}

type SocketConfig struct {
	Enabled bool
}

// RenderConfig is the presentation profile plus the surfaces to render on.
type RenderConfig struct {
	ChannelID   string
	ChannelName string
	SlotID      string
	FCM         FCMConfig
	APNS        APNSConfig
	Web         WebPushConfig
	Socket      SocketConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string `validate:"required_with=SubscriptionID"`
	ListenAddr             string `validate:"required"`
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int `validate:"min=1"`

	// IdentityServiceURL enables JWT auth on the API when set.
	IdentityServiceURL string
	CorsConfig         middleware.CorsConfig

	AppName string
	Store   backend.Config
	Redis   RedisConfig
	Render  RenderConfig
	Vapid   VapidConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether push events arrive over Pub/Sub.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	})
	override("IDENTITY_SERVICE_URL", func(v string) { cfg.IdentityServiceURL = v })
	override("APP_NAME", func(v string) { cfg.AppName = v })

	// Store
	override("STORE_BACKEND", func(v string) { cfg.Store.Kind = backend.Kind(v) })
	override("STORE_NAMESPACE", func(v string) { cfg.Store.Namespace = v })
	override("STORE_FILE_DIR", func(v string) { cfg.Store.FileDir = v })
	override("KEYRING_SERVICE", func(v string) { cfg.Store.KeyringService = v })
	override("POSTGRES_DSN", func(v string) { cfg.Store.PostgresDSN = v })
	override("FIRESTORE_COLLECTION", func(v string) { cfg.Store.FirestoreCollection = v })

	// Redis
	override("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	})
	override("REDIS_ENABLED", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.Redis.Enabled = enabled
	})

	// Renderers
	override("FCM_TOKEN", func(v string) {
		cfg.Render.FCM.Token = v
		cfg.Render.FCM.Enabled = true
	})
	override("FCM_TOPIC", func(v string) {
		cfg.Render.FCM.Topic = v
		cfg.Render.FCM.Enabled = true
	})
	override("FCM_CREDENTIALS_FILE", func(v string) { cfg.Render.FCM.CredentialsFile = v })
	override("APNS_P8_KEY", func(v string) { cfg.Render.APNS.P8KeyContent = v })
	override("APNS_DEVICE_TOKEN", func(v string) { cfg.Render.APNS.DeviceToken = v })

	// VAPID
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	// CORS
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Store.Kind == backend.KindFirestore && cfg.Store.ProjectID == "" {
		cfg.Store.ProjectID = cfg.ProjectID
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct rules, then the cross-section ones.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fcm := cfg.Render.FCM
	if fcm.Enabled && (fcm.Token == "") == (fcm.Topic == "") {
		return errors.New("invalid configuration: fcm needs exactly one of token or topic")
	}
	if fcm.Enabled && cfg.ProjectID == "" {
		return errors.New("invalid configuration: fcm requires project_id")
	}
	if cfg.Render.Web.Enabled && (cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "") {
		return errors.New("invalid configuration: web push requires vapid keys")
	}
	return nil
}
