package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chesshub/gateway/internal/bus"
	"github.com/chesshub/gateway/internal/config"
	"github.com/chesshub/gateway/internal/hub"
	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/server"
	"github.com/chesshub/gateway/internal/session"
)

func main() {
	cfg := config.Default()
	configFile := ""

	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "WebSocket fan-out gateway between browsers and the main server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				if err := cfg.LoadFile(configFile); err != nil {
					return err
				}
				// flags override the file
				if err := applyFlags(cmd, &cfg); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Bind, "bind", cfg.Bind, "listen address")
	flags.StringVar(&cfg.Redis, "redis", cfg.Redis, "redis bus URI")
	flags.StringVar(&cfg.Nats, "nats", cfg.Nats, "NATS bus URI (overrides redis transport)")
	flags.StringVar(&cfg.Mongo, "mongodb", cfg.Mongo, "session store URI")
	flags.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "simultaneous connection cap")
	flags.IntVar(&cfg.RateLimiterCredits, "rate-limiter-credits", cfg.RateLimiterCredits, "per-IP frame credits per 10s")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flags.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "console log output")
	flags.StringVar(&configFile, "config", "", "optional YAML config file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags re-applies explicitly set flags on top of the config file.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && cmd.Flags().Changed(name) {
			err = apply()
		}
	}
	flags := cmd.Flags()
	set("bind", func() error { v, e := flags.GetString("bind"); cfg.Bind = v; return e })
	set("redis", func() error { v, e := flags.GetString("redis"); cfg.Redis = v; return e })
	set("nats", func() error { v, e := flags.GetString("nats"); cfg.Nats = v; return e })
	set("mongodb", func() error { v, e := flags.GetString("mongodb"); cfg.Mongo = v; return e })
	set("max-connections", func() error { v, e := flags.GetInt("max-connections"); cfg.MaxConnections = v; return e })
	set("rate-limiter-credits", func() error { v, e := flags.GetInt("rate-limiter-credits"); cfg.RateLimiterCredits = v; return e })
	set("log-level", func() error { v, e := flags.GetString("log-level"); cfg.LogLevel = v; return e })
	set("log-pretty", func() error { v, e := flags.GetBool("log-pretty"); cfg.LogPretty = v; return e })
	return err
}

func run(cfg config.Config) error {
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	instanceID := uuid.NewString()
	log.Info().Str("instance", instanceID).Str("bind", cfg.Bind).Msg("Starting gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancelInit := context.WithTimeout(ctx, 10*time.Second)
	defer cancelInit()

	var transport bus.Transport
	var err error
	if cfg.Nats != "" {
		log.Info().Str("uri", cfg.Nats).Msg("Connecting to NATS bus")
		transport, err = bus.NewNatsTransport(cfg.Nats, "gateway-"+instanceID)
	} else {
		log.Info().Str("uri", cfg.Redis).Msg("Connecting to redis bus")
		transport, err = bus.NewRedisTransport(initCtx, cfg.Redis)
	}
	if err != nil {
		log.Error().Err(err).Msg("Bus connection failed")
		return err
	}
	defer transport.Close()

	log.Info().Str("uri", cfg.Mongo).Msg("Connecting to session store")
	store, err := session.NewMongoStore(initCtx, cfg.Mongo)
	if err != nil {
		log.Error().Err(err).Msg("Session store connection failed")
		return err
	}

	var bridge *bus.Bridge
	h := hub.New(func(msg ipc.LilaIn) { bridge.Publish(msg) })
	bridge = bus.NewBridge(transport, h.HandleLilaOut)

	auth := session.NewAuthenticator(store, h.SettleAuth)

	go bridge.Run(ctx)
	go auth.Run(ctx)
	go h.Run(ctx)

	// the backend drops any state carried over from a previous process
	bridge.Publish(ipc.DisconnectAll{})

	srv := server.New(server.Config{
		Bind:               cfg.Bind,
		MaxConnections:     cfg.MaxConnections,
		RateLimiterCredits: cfg.RateLimiterCredits,
	}, h, auth)

	err = srv.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Server failed")
		return err
	}
	log.Info().Msg("Gateway stopped")
	return nil
}
