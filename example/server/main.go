package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/iamxvbaba/chanhub"
	"github.com/iamxvbaba/chanhub/pubsub"
)

type flags struct {
	ConfigPath string
	LogLevel   string
	Addr       string
}

func main() {
	if err := setupLogger("info"); err != nil {
		panic(err)
	}

	f := &flags{}
	app := &cli.Command{
		Name:  "chanhubd",
		Usage: "Run the chanhub channel server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to TOML config file (optional)",
				Sources:     cli.EnvVars("CHANHUB_CONFIG"),
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error); overrides config",
				Sources:     cli.EnvVars("CHANHUB_LOG_LEVEL"),
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address; overrides config",
				Sources:     cli.EnvVars("CHANHUB_ADDR"),
				Destination: &f.Addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, f)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("chanhubd failed")
	}
}

func run(ctx context.Context, f *flags) error {
	cfg := defaultServerConfig()
	if f.ConfigPath != "" {
		loaded, err := loadServerConfig(f.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if f.Addr != "" {
		cfg.Addr = f.Addr
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ps, closePubSub, err := newPubSub(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePubSub()

	logger := log.Logger
	opts := cfg.Options
	opts.PubSub = ps
	opts.Logger = &logger
	hub := chanhub.NewServerWithOptions(newRouter(), &opts)

	// 连接/断开钩子
	hub.OnConnect(func(c *chanhub.Conn) {
		log.Debug().Str("conn_id", c.ID).Msg("client connected")
	})
	hub.OnDisconnect(func(c *chanhub.Conn) {
		log.Debug().Str("conn_id", c.ID).Msg("client disconnected")
	})

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	r.PathPrefix(cfg.Options.Path).Handler(hub.Handler())

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("path", cfg.Options.Path).Str("pubsub", cfg.PubSub).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// 定期广播
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case t := <-ticker.C:
				if err := hub.Broadcast("lobby", "tick", map[string]string{"at": t.UTC().Format(time.RFC3339)}); err != nil {
					log.Warn().Err(err).Msg("lobby broadcast failed")
				}
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		// 监听系统信号并优雅关闭
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(shutdownCtx)
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newPubSub(ctx context.Context, cfg serverConfig) (pubsub.PubSub, func(), error) {
	if cfg.PubSub != pubsubLibp2p {
		return pubsub.NewMemory(), func() {}, nil
	}
	opts := cfg.Libp2p
	opts.Logger = log.Logger
	p, err := pubsub.NewLibp2p(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("start libp2p pubsub: %w", err)
	}
	log.Info().Str("peer_id", p.PeerID()).Strs("addrs", p.ListenAddrs()).Msg("libp2p pubsub started")
	return p, func() { _ = p.Close() }, nil
}

func setupLogger(level string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(parsedLevel)
	return nil
}
