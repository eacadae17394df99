package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/backend"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlStoreConfig struct {
	Backend             string `yaml:"backend"`
	FileDir             string `yaml:"file_dir"`
	KeyringService      string `yaml:"keyring_service"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

type YamlBridgeConfig struct {
	AppName   string `yaml:"app_name"`
	Namespace string `yaml:"namespace"`
}

type YamlRenderConfig struct {
	ChannelID   string `yaml:"channel_id"`
	ChannelName string `yaml:"channel_name"`
	SlotID      string `yaml:"slot_id"`
	FCM         struct {
		Enabled         bool   `yaml:"enabled"`
		Token           string `yaml:"token"`
		Topic           string `yaml:"topic"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"fcm"`
	APNS struct {
		Enabled     bool   `yaml:"enabled"`
		KeyID       string `yaml:"key_id"`
		TeamID      string `yaml:"team_id"`
		BundleID    string `yaml:"bundle_id"`
		DeviceToken string `yaml:"device_token"`
		Sandbox     bool   `yaml:"sandbox"`
	} `yaml:"apns"`
	Web struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
		P256dh   string `yaml:"p256dh"`
		Auth     string `yaml:"auth"`
	} `yaml:"web"`
	Socket struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"socket"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string           `yaml:"project_id"`
	ListenAddr             string           `yaml:"listen_addr"`
	TopicID                string           `yaml:"topic_id"`
	SubscriptionID         string           `yaml:"subscription_id"`
	SubscriptionDLQTopicID string           `yaml:"subscription_dlq_topic_id"`
	IdentityServiceURL     string           `yaml:"identity_service_url"`
	CorsConfig             YamlCorsConfig   `yaml:"cors"`
	Bridge                 YamlBridgeConfig `yaml:"bridge"`
	Store                  YamlStoreConfig  `yaml:"store"`
	RedisConfig            YamlRedisConfig  `yaml:"redis"`
	Render                 YamlRenderConfig `yaml:"render"`
	VapidConfig            YamlVapidConfig  `yaml:"vapid"`
	NumPipelineWorkers     int              `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Secrets (APNs key) only come from the environment.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var ttl time.Duration
	if baseCfg.RedisConfig.TTL != "" {
		d, err := time.ParseDuration(baseCfg.RedisConfig.TTL)
		if err != nil {
			return nil, err
		}
		ttl = d
	}

	r := baseCfg.Render
	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		AppName: baseCfg.Bridge.AppName,
		Store: backend.Config{
			Kind:                backend.Kind(baseCfg.Store.Backend),
			Namespace:           baseCfg.Bridge.Namespace,
			FileDir:             baseCfg.Store.FileDir,
			KeyringService:      baseCfg.Store.KeyringService,
			PostgresDSN:         baseCfg.Store.PostgresDSN,
			FirestoreCollection: baseCfg.Store.FirestoreCollection,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      ttl,
		},
		Render: RenderConfig{
			ChannelID:   r.ChannelID,
			ChannelName: r.ChannelName,
			SlotID:      r.SlotID,
			FCM: FCMConfig{
				Enabled:         r.FCM.Enabled,
				Token:           r.FCM.Token,
				Topic:           r.FCM.Topic,
				CredentialsFile: r.FCM.CredentialsFile,
			},
			APNS: APNSConfig{
				Enabled:     r.APNS.Enabled,
				KeyID:       r.APNS.KeyID,
				TeamID:      r.APNS.TeamID,
				BundleID:    r.APNS.BundleID,
				DeviceToken: r.APNS.DeviceToken,
				Sandbox:     r.APNS.Sandbox,
			},
			Web: WebPushConfig{
				Enabled:  r.Web.Enabled,
				Endpoint: r.Web.Endpoint,
				P256dh:   r.Web.P256dh,
				Auth:     r.Web.Auth,
			},
			Socket: SocketConfig{Enabled: r.Socket.Enabled},
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"store_backend", cfg.Store.Kind,
	)

	return cfg, nil
}
