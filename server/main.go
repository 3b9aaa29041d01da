package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.1.0"
	appName = "epitrello"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var opts options
	serve := func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), opts)
	}

	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Kanban board backend with a realtime relay",
		SilenceUsage: true,
		RunE:         serve,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the realtime relay (default)",
		RunE:  serve,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed-templates",
		Short: "Insert the default board templates when none exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}

// setup loads configuration and builds the logger. The level lives in a
// LevelVar so a config reload can change it.
func setup(opts options) (*viper.Viper, *Config, *slog.Logger, *slog.LevelVar, error) {
	v, cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	l, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(l)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	return v, cfg, log, level, nil
}

func openStore(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return OpenSQLStore(ctx, "pgx", cfg.Store.DSN)
	case "sqlite":
		return OpenSQLStore(ctx, "sqlite", cfg.Store.DSN)
	default:
		return NewFileStore(afero.NewOsFs(), cfg.Store.DataDir)
	}
}

func runSeed(ctx context.Context, opts options) error {
	_, cfg, log, _, err := setup(opts)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	n, err := seedTemplates(ctx, store, log)
	if err != nil {
		return err
	}
	log.Info("seed complete", "created", n)
	return nil
}

func runServe(ctx context.Context, opts options) error {
	v, cfg, log, level, err := setup(opts)
	if err != nil {
		return err
	}
	watchConfig(v, level, log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("store ready", "driver", cfg.Store.Driver)

	if cfg.Templates.Seed {
		if _, err := seedTemplates(ctx, store, log); err != nil {
			log.Warn("seed templates", "err", err)
		}
	}

	m := newMetrics()
	hub := NewHub(cfg.Relay.Buffer, m, log)
	if cfg.Relay.NATSURL != "" {
		peer, err := connectNATSPeer(cfg.Relay.NATSURL, hub, log)
		if err != nil {
			return err
		}
		defer peer.Close()
		hub.SetPeer(peer)
		log.Info("relay peer connected", "url", cfg.Relay.NATSURL, "subject", natsRelaySubject)
	}

	blobs, err := newBlobStore(afero.NewOsFs(), cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	if cfg.Web.Dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.Web.Dir)))
	}
	api := newAPI(cfg, store, blobs, hub, m, log)
	api.routes(mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: withLogging(log, m, withCORS(cfg.CORS.AllowedOrigins, mux)),
		ReadTimeout: 15 * time.Second, ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout: 30 * time.Second, IdleTimeout: 120 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down")
	ctxSh, cancelSh := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSh()
	if err := srv.Shutdown(ctxSh); err != nil {
		log.Error("shutdown", "err", err)
	}
	return nil
}
