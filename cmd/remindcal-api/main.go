package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/auth"
	"github.com/halcyonlabs/remindcal/backend/internal/config"
	"github.com/halcyonlabs/remindcal/backend/internal/database"
	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/ids"
	"github.com/halcyonlabs/remindcal/backend/internal/logging"
	"github.com/halcyonlabs/remindcal/backend/internal/push"
	"github.com/halcyonlabs/remindcal/backend/internal/reminders"
	"github.com/halcyonlabs/remindcal/backend/internal/rules"
	"github.com/halcyonlabs/remindcal/backend/internal/scheduler"
	"github.com/halcyonlabs/remindcal/backend/internal/server"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "remindcal-api",
		Short: "RemindCal calendar and reminder backend service",
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
	cmd.PersistentFlags().String("session-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("session-ttl-hours", defaults.GetInt("session.ttl_hours"), "Session TTL in hours")
	cmd.PersistentFlags().Int("utc-offset-hours", defaults.GetInt("calendar.utc_offset_hours"), "Fixed UTC offset for reminder times")
	cmd.PersistentFlags().String("scheduler-cron", defaults.GetString("scheduler.cron"), "Cron spec for the dispatch loop")
	cmd.PersistentFlags().String("vapid-public-key", "", "VAPID public key for web push")
	cmd.PersistentFlags().String("vapid-private-key", "", "VAPID private key for web push")
	cmd.PersistentFlags().String("vapid-subject", defaults.GetString("push.vapid_subject"), "VAPID subject (mailto: or URL)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "session-secret")
	bindFlag(cmd, "session.cookie_name", "cookie-name")
	bindFlag(cmd, "session.ttl_hours", "session-ttl-hours")
	bindFlag(cmd, "calendar.utc_offset_hours", "utc-offset-hours")
	bindFlag(cmd, "scheduler.cron", "scheduler-cron")
	bindFlag(cmd, "push.vapid_public_key", "vapid-public-key")
	bindFlag(cmd, "push.vapid_private_key", "vapid-private-key")
	bindFlag(cmd, "push.vapid_subject", "vapid-subject")
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

	sessionManager, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        "remindcal-api",
		CookieName:    appConfig.SessionCookieName,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	location := appConfig.Location()

	remindersService, err := reminders.NewService(reminders.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Location:   location,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	eventsService, err := events.NewService(events.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		IDProvider:   idProvider,
		Materializer: remindersService,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	rulesService, err := rules.NewService(rules.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		IDProvider:   idProvider,
		Materializer: remindersService,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	pushService, err := push.NewService(push.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var sender push.Sender = push.NoOpSender{}
	if appConfig.PushEnabled() {
		sender, err = push.NewWebPushSender(push.WebPushSenderConfig{
			VAPIDPublicKey:  appConfig.VAPIDPublicKey,
			VAPIDPrivateKey: appConfig.VAPIDPrivateKey,
			Subject:         appConfig.VAPIDSubject,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("VAPID keys not configured, push delivery disabled")
	}

	dispatcher, err := scheduler.NewService(scheduler.ServiceConfig{
		Database:      db,
		Reminders:     remindersService,
		Subscriptions: pushService,
		Sender:        sender,
		Clock:         time.Now,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	runner, err := scheduler.NewRunner(appConfig.SchedulerCron, dispatcher, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionManager,
		Users:          usersService,
		Events:         eventsService,
		Rules:          rulesService,
		Reminders:      remindersService,
		Subscriptions:  pushService,
		Dispatcher:     dispatcher,
		VAPIDPublicKey: appConfig.VAPIDPublicKey,
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

	runner.Start()
	defer runner.Stop()

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
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
