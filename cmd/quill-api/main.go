package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/channel"
	"github.com/MarcoPoloResearchLab/quill/internal/config"
	"github.com/MarcoPoloResearchLab/quill/internal/database"
	"github.com/MarcoPoloResearchLab/quill/internal/logging"
	"github.com/MarcoPoloResearchLab/quill/internal/notes"
	"github.com/MarcoPoloResearchLab/quill/internal/server"
	"github.com/MarcoPoloResearchLab/quill/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "quill-api",
		Short: "Quill notes synchronization service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("github-client-id", defaults.GetString("github.client_id"), "GitHub OAuth client ID")
	cmd.PersistentFlags().Int("token-ttl-hours", defaults.GetInt("token.ttl_hours"), "Backend token TTL in hours")
	cmd.PersistentFlags().Int("channel-key-ttl-seconds", defaults.GetInt("channel.key_ttl_seconds"), "One-time channel key TTL in seconds")
	cmd.PersistentFlags().Int("channel-debounce-seconds", defaults.GetInt("channel.debounce_seconds"), "Quiet period before coalesced edits flush")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "github.client_id", "github-client-id")
	bindFlag(cmd, "token.ttl_hours", "token-ttl-hours")
	bindFlag(cmd, "channel.key_ttl_seconds", "channel-key-ttl-seconds")
	bindFlag(cmd, "channel.debounce_seconds", "channel-debounce-seconds")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "quill-auth",
		Audience:      "quill-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	exchanger, err := auth.NewGitHubExchanger(auth.GitHubExchangerConfig{
		ClientID:     appConfig.GitHubClientID,
		ClientSecret: appConfig.GitHubClientSecret,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	contentWriter, err := notes.NewContentWriter(db, time.Now, logger)
	if err != nil {
		return err
	}

	coalescer, err := channel.NewCoalescer(channel.CoalescerConfig{
		Writer:       contentWriter,
		Window:       appConfig.DebounceWindow,
		EntryMaxIdle: appConfig.EntryMaxIdle,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer coalescer.Close()

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Overlay:    coalescer,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	keyStore := channel.NewKeyStore(channel.KeyStoreConfig{KeyTTL: appConfig.ChannelKeyTTL})
	defer keyStore.Close()

	registry := channel.NewRegistry(logger)
	dispatcher := channel.NewDispatcher(registry, logger)

	channelHandler, err := channel.NewHandler(channel.HandlerConfig{
		Keys:       keyStore,
		Registry:   registry,
		Coalescer:  coalescer,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Exchanger:      exchanger,
		TokenManager:   tokenManager,
		Users:          userService,
		NotesService:   notesService,
		ChannelHandler: channelHandler,
		KeyIssuer:      keyStore,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		// Disconnect channels first so no new edits arrive, then flush
		// whatever the debounce window was still holding back.
		registry.CloseAll()
		coalescer.FlushAll(shutdownCtx)
		return shutdownErr
	case err := <-errCh:
		return err
	}
}
