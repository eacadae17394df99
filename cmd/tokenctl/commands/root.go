// Package commands implements tokenctl, the operator CLI for the token store.
// A synchronisation process can poll sync-state and call ack once the token
// has been forwarded.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tinywideclouds/go-push-bridge/internal/events"
	"github.com/tinywideclouds/go-push-bridge/internal/query"
	"github.com/tinywideclouds/go-push-bridge/internal/render"
	"github.com/tinywideclouds/go-push-bridge/internal/storage"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/backend"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/cache"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	cmd := &cli.Command{
		Name:   "tokenctl",
		Usage:  "inspect and acknowledge the bridged push token",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "store backend (file|keyring|postgres|firestore)",
				Value:   string(backend.KindFile),
				Sources: cli.EnvVars("STORE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "namespace",
				Usage:   "token record namespace",
				Value:   "default",
				Sources: cli.EnvVars("STORE_NAMESPACE"),
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "directory of the file store",
				Sources: cli.EnvVars("STORE_FILE_DIR"),
			},
			&cli.StringFlag{
				Name:    "keyring-service",
				Usage:   "keyring service name",
				Value:   "go-push-bridge",
				Sources: cli.EnvVars("KEYRING_SERVICE"),
			},
			&cli.StringFlag{
				Name:    "postgres-dsn",
				Usage:   "postgres connection string",
				Sources: cli.EnvVars("POSTGRES_DSN"),
			},
			&cli.StringFlag{
				Name:    "project",
				Usage:   "GCP project for the firestore store",
				Sources: cli.EnvVars("PROJECT_ID"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "redis cache shared with the bridge service; kept current on writes",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Sources: cli.EnvVars("REDIS_DB"),
			},
			&cli.DurationFlag{
				Name:  "redis-ttl",
				Usage: "TTL of cache entries written by tokenctl",
				Value: 24 * time.Hour,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelWarn.String(),
			},
		},
		Commands: []*cli.Command{
			getCommand(),
			syncStateCommand(),
			ackCommand(),
			refreshCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// session is one opened store with the services on top of it.
type session struct {
	query   *query.Service
	handler *events.Handler
	close   func() error
}

func openSession(ctx context.Context, cmd *cli.Command) (*session, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("service", "tokenctl")

	cfg := backend.Config{
		Kind:           backend.Kind(cmd.String("backend")),
		Namespace:      cmd.String("namespace"),
		FileDir:        cmd.String("dir"),
		KeyringService: cmd.String("keyring-service"),
		PostgresDSN:    cmd.String("postgres-dsn"),
		ProjectID:      cmd.String("project"),
	}
	if cfg.Kind == backend.KindFile && cfg.FileDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("no --dir given and no user config dir: %w", err)
		}
		cfg.FileDir = filepath.Join(dir, "go-push-bridge")
	}

	durable, closeFn, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Writes go through the backend's own Update, which excludes a bridge
	// service writing the same record concurrently.
	var inner bridge.TokenStore = durable
	if addr := cmd.String("redis-addr"); addr != "" {
		redisClient, err := cache.NewRedisClient(addr, cmd.String("redis-password"), cmd.Int("redis-db"))
		if err != nil {
			_ = closeFn()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		inner = cache.NewCachedTokenStore(durable, redisClient, cfg.Namespace, cmd.Duration("redis-ttl"), logger)
		closeStore := closeFn
		closeFn = func() error {
			return errors.Join(redisClient.Close(), closeStore())
		}
	}

	store := storage.NewSerializedStore(inner)
	return &session{
		query:   query.NewService(store, logger),
		handler: events.NewHandler(store, render.NewFanout(nil, logger), "", logger),
		close:   closeFn,
	}, nil
}

func withSession(fn func(ctx context.Context, cmd *cli.Command, s *session) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(ctx, cmd, s)
	}
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "print the current token",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			res := s.query.QueryToken(ctx)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		}),
	}
}

func syncStateCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync-state",
		Usage: "print the token and whether it still needs syncing",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			res := s.query.SyncState(ctx)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		}),
	}
}

func ackCommand() *cli.Command {
	return &cli.Command{
		Name:  "ack",
		Usage: "mark the token as synchronised",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "token",
				Usage: "only acknowledge if this is still the stored token",
			},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			res := s.query.AcknowledgeSync(ctx, cmd.String("token"))
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		}),
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "store a token as if the transport had issued it",
		ArgsUsage: "<token>",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			if cmd.Args().Len() != 1 {
				return errors.New("refresh takes exactly one token argument")
			}
			return s.handler.OnTokenRefresh(ctx, cmd.Args().First())
		}),
	}
}
