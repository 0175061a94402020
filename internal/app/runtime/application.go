// Package runtime wires configuration, storage and the HTTP server into a
// runnable process.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	app "github.com/blockscope/explorer/internal/app"
	"github.com/blockscope/explorer/internal/app/events"
	"github.com/blockscope/explorer/internal/app/httpapi"
	"github.com/blockscope/explorer/internal/app/mail"
	"github.com/blockscope/explorer/internal/app/metrics"
	"github.com/blockscope/explorer/internal/app/storage/postgres"
	"github.com/blockscope/explorer/internal/config"
	"github.com/blockscope/explorer/internal/middleware"
	"github.com/blockscope/explorer/internal/platform/database"
	"github.com/blockscope/explorer/pkg/logger"
)

// Application owns the process-level dependencies and the server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	db         *sql.DB
	cache      *redis.Client
	publisher  events.Publisher
}

// NewApplication constructs the application from the environment.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, "explorer")

	var (
		db     *sql.DB
		stores app.Stores
	)
	if cfg.Database.DSN != "" {
		db, err = database.Open(ctx, database.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		store := postgres.New(db)
		stores = app.Stores{
			Users:         store,
			Wallets:       store,
			Tokens:        store,
			Blocks:        store,
			Ledger:        store,
			P2P:           store,
			Notifications: store,
			Market:        store,
		}
		log.Info("postgres storage configured")
	} else {
		// Empty stores fall back to the in-memory implementation.
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := cache.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable; market cache disabled")
			cache = nil
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		log.WithField("topic", cfg.Kafka.Topic).Info("kafka publisher configured")
	}

	var mailer mail.Sender
	if cfg.SMTP.Host != "" {
		mailer = &mail.SMTPSender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			From:     cfg.SMTP.From,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}
	}

	application := app.New(stores, app.Options{
		Publisher:      publisher,
		Mailer:         mailer,
		MarketCache:    cache,
		MarketCacheTTL: time.Duration(cfg.Redis.CacheTTL) * time.Second,
	}, log)

	handler := httpapi.NewHandler(application, httpapi.Options{AuditDB: db, Logger: log})
	cors := middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins)
	chain := cors.Handler(metrics.InstrumentHandler(handler))

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: srv,
		db:         db,
		cache:      cache,
		publisher:  publisher,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.log.WithField("addr", a.httpServer.Addr).Info("http server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests and closes external connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithError(err).Warn("error closing event publisher")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}
