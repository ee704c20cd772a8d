package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bastion/internal/analytics"
	"bastion/internal/audit"
	"bastion/internal/bot"
	"bastion/internal/config"
	"bastion/internal/privileges"
	"bastion/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "bastion",
		Short:        "Discord moderation bot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default $CONFIG_PATH or config.yaml)")

	rootCmd.AddCommand(
		newRunCmd(),
		newMigrateCmd(),
		newExpiriesCmd(),
		newCheckRanksCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start moderating",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireBot(); err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("storage init failed", zap.Error(err))
		return err
	}
	defer store.Close()

	table, err := config.LoadRanks(cfg.RanksPath)
	if err != nil {
		logger.Error("rank table load failed", zap.String("path", cfg.RanksPath), zap.Error(err))
		return err
	}
	evaluator, err := privileges.NewEvaluator(table)
	if err != nil {
		return err
	}

	auditLogger := audit.NewLogger(store, logger.Named("audit"), cfg.GuildID)
	analyticsSvc := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, evaluator, auditLogger, analyticsSvc)
	if err != nil {
		logger.Error("bot init failed", zap.Error(err))
		return err
	}

	if err := botSvc.Start(); err != nil {
		logger.Error("bot start failed", zap.Error(err))
		return err
	}
	logger.Info("bot started", zap.String("guild_id", cfg.GuildID), zap.String("prefix", cfg.Prefix))

	var server *http.Server
	if cfg.Health.Enabled {
		server = healthServer(cfg.Health.Addr, store, botSvc)
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	return nil
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store, nil
}

func healthServer(addr string, store *storage.Store, botSvc *bot.Bot) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		expiries, confirmations := botSvc.Pending()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"pending_expiries":      expiries,
			"pending_confirmations": confirmations,
		})
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
