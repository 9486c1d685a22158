// Package main runs the credential lifecycle service: an HTTP/JSON API over
// the lifecycle engine, backed by PostgreSQL for metadata and a Vault-style
// KV store for secret material.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/credential_layer/internal/config"
	"github.com/R3E-Network/credential_layer/internal/crypto"
	"github.com/R3E-Network/credential_layer/internal/httpapi"
	"github.com/R3E-Network/credential_layer/internal/logging"
	"github.com/R3E-Network/credential_layer/internal/middleware"
	"github.com/R3E-Network/credential_layer/internal/secretstore"
	auditsvc "github.com/R3E-Network/credential_layer/internal/services/audit"
	"github.com/R3E-Network/credential_layer/internal/services/credentials"
	"github.com/R3E-Network/credential_layer/internal/services/permissions"
	"github.com/R3E-Network/credential_layer/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	flag.Parse()

	// Local development convenience; absent .env files are not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithField("component", "credentiald")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	logger.Info("database ready")

	store := postgres.New(db)

	secrets, err := secretstore.New(secretstore.Config{
		BaseURL: cfg.SecretStore.Address,
		Token:   cfg.SecretStore.Token,
		Mount:   cfg.SecretStore.Mount,
	})
	if err != nil {
		return err
	}

	cipher, err := crypto.NewCipher(crypto.KeyConfig{
		Key:         cfg.Encryption.Key,
		Salt:        cfg.Encryption.Salt,
		Password:    cfg.Encryption.Password,
		Environment: cfg.Environment,
	})
	if err != nil {
		return err
	}

	recorder := auditsvc.NewRecorder(store, logger.WithField("component", "audit"))
	perms := permissions.New(store, recorder, logger.WithField("component", "permissions"))
	engine := credentials.New(
		store, store, secrets, cipher, perms, recorder,
		logger.WithField("component", "credentials"),
		credentials.Config{
			PathPrefix:   cfg.Engine.PathPrefix,
			VisibleChars: cfg.Encryption.VisibleChars,
			CallTimeout:  cfg.Engine.CallTimeout.Std(),
		},
	)

	var sweeper *credentials.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper = credentials.NewSweeper(store, secrets, cfg.Engine.PathPrefix,
			logger.WithField("component", "sweeper"),
			credentials.SweeperConfig{
				Schedule: cfg.Sweeper.Schedule,
				MinAge:   cfg.Sweeper.MinAge.Std(),
			})
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	auth := middleware.NewAuth([]byte(cfg.Auth.JWTSecret),
		logger.WithField("component", "auth"),
		[]string{"/health", "/metrics"})

	api := httpapi.New(engine, perms, recorder, logger.WithField("component", "httpapi"))
	api.SetHealthCheck(func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if _, err := secrets.List(ctx, cfg.Engine.PathPrefix); err != nil {
			return fmt.Errorf("secret store: %w", err)
		}
		return nil
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Router(auth),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
