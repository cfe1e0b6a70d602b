package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/millbright/factoryops/backend/internal/alerts"
	"github.com/millbright/factoryops/backend/internal/auth"
	"github.com/millbright/factoryops/backend/internal/config"
	"github.com/millbright/factoryops/backend/internal/database"
	"github.com/millbright/factoryops/backend/internal/dispatch"
	"github.com/millbright/factoryops/backend/internal/floor"
	"github.com/millbright/factoryops/backend/internal/logging"
	"github.com/millbright/factoryops/backend/internal/notify"
	"github.com/millbright/factoryops/backend/internal/relay"
	"github.com/millbright/factoryops/backend/internal/reports"
	"github.com/millbright/factoryops/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	// Local development keeps secrets in .env; absence is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "factoryops-api",
		Short: "Factory floor operations backend service",
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
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("cache-ttl-seconds", defaults.GetInt("cache.ttl_seconds"), "Admin response cache TTL in seconds")
	cmd.PersistentFlags().Int("otp-rate-per-minute", defaults.GetInt("otp.rate_per_minute"), "OTP verification attempts per IP per minute")
	cmd.PersistentFlags().Int("otp-burst", defaults.GetInt("otp.burst"), "OTP verification burst per IP")
	cmd.PersistentFlags().Int("push-workers", defaults.GetInt("push.workers"), "Web push worker count")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "cache.ttl_seconds", "cache-ttl-seconds")
	bindFlag(cmd, "otp.rate_per_minute", "otp-rate-per-minute")
	bindFlag(cmd, "otp.burst", "otp-burst")
	bindFlag(cmd, "push.workers", "push-workers")
	bindFlag(cmd, "log.level", "log-level")
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

	db, err := database.Open(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "factoryops-auth",
		Audience:      "factoryops-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	broadcaster := relay.NewBroadcaster()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pushPool *notify.Pool
	if appConfig.PushEnabled() {
		pushPool, err = notify.NewPool(notify.PoolConfig{
			Database: db,
			Workers:  appConfig.PushWorkers,
			Options: &webpush.Options{
				Subscriber:      appConfig.VAPIDSubscriber,
				VAPIDPublicKey:  appConfig.VAPIDPublicKey,
				VAPIDPrivateKey: appConfig.VAPIDPrivateKey,
				TTL:             300,
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		pushPool.Start(signalCtx)
	} else {
		logger.Info("web push disabled, no VAPID keys configured")
	}

	floorService, err := floor.NewService(floor.ServiceConfig{
		Database:  db,
		Publisher: broadcaster,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	dispatchService, err := dispatch.NewService(dispatch.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	alertsConfig := alerts.ServiceConfig{
		Database:  db,
		Publisher: broadcaster,
		Directory: verifier,
		Logger:    logger,
	}
	if pushPool != nil {
		alertsConfig.Notifier = pushPool
	}
	alertsService, err := alerts.NewService(alertsConfig)
	if err != nil {
		return err
	}
	reportsService, err := reports.NewService(reports.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		FloorService:     floorService,
		DispatchService:  dispatchService,
		AlertsService:    alertsService,
		ReportsService:   reportsService,
		Verifier:         verifier,
		Tokens:           tokenIssuer,
		Broadcaster:      broadcaster,
		Push:             pushPool,
		VAPIDPublicKey:   appConfig.VAPIDPublicKey,
		CacheTTL:         appConfig.CacheTTL,
		OTPRatePerMinute: appConfig.OTPRatePerMinute,
		OTPBurst:         appConfig.OTPBurst,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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
