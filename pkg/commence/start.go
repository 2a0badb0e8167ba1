// Package commence wires the gateway together for the host application:
// storage, API client, reconciler, webhook ingress, sweeper, and routes.
package commence

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/config"
	"github.com/breez/breez-woocommerce/pkg/gateway"
	"github.com/breez/breez-woocommerce/pkg/models"
	"github.com/breez/breez-woocommerce/pkg/orders"
	"github.com/breez/breez-woocommerce/pkg/rates"
	"github.com/breez/breez-woocommerce/pkg/reconcile"
	"github.com/breez/breez-woocommerce/pkg/routes"
	"github.com/breez/breez-woocommerce/pkg/store"
	"github.com/breez/breez-woocommerce/pkg/sweeper"
	"github.com/breez/breez-woocommerce/pkg/webhook"
)

// App is the running gateway. The host mounts its routes and stops it on
// shutdown.
type App struct {
	Config     *config.BreezConfig
	Client     *breez.Client
	Store      *store.PaymentStore
	Reconciler *reconcile.Reconciler
	Sweeper    *sweeper.Sweeper
	Gateway    *gateway.Gateway

	handlers *routes.Handlers
	cancel   context.CancelFunc
	log      zerolog.Logger
}

// Start opens storage, verifies the Payment API, registers the webhook URL
// when one is configured, and launches the sweeper. The host supplies the
// order collaborator.
func Start(cfg *config.BreezConfig, host orders.Host) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "breez-gateway").Logger()

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("commence: BREEZ_DATABASE_DSN is required")
	}
	db, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("commence: opening database: %w", err)
	}
	return StartWithDB(cfg, db, host, log)
}

// StartWithDB is Start with storage supplied by the caller. Tests and hosts
// that manage their own gorm handle use this directly.
func StartWithDB(cfg *config.BreezConfig, db *gorm.DB, host orders.Host, log zerolog.Logger) (*App, error) {
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("commence: migrating payment table: %w", err)
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	client := breez.NewClient(cfg.APIURL, cfg.APIKey, cfg.APITimeout, log)
	st := store.New(db, log)
	rateSource := rates.New(client, cache, cfg.RateBufferPercent, log)
	rec := reconcile.New(st, host, log)
	sw := sweeper.New(st, client, rec, cfg.SweepInterval, cfg.SweepMinAge, cfg.SweepMaxAge, log)
	validator := webhook.NewValidator(cfg.WebhookSecret)
	ingress := webhook.NewIngress(validator, rec, log)

	app := &App{
		Config:     cfg,
		Client:     client,
		Store:      st,
		Reconciler: rec,
		Sweeper:    sw,
		Gateway:    gateway.New(client, rateSource, st, host, cfg, log),
		handlers:   routes.NewHandlers(st, client, rec, ingress, sw, log),
		log:        log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if cfg.WebhookSecret == "" {
		// The validator fails closed without a secret, so webhooks are
		// effectively disabled until the operator configures one.
		log.Warn().Msg("webhook secret not configured; webhook ingress will reject all deliveries")
	}

	if !cfg.TestMode && !client.CheckHealth(ctx) {
		log.Warn().Msg("Payment API health check failed; payments may not work until it recovers")
	}

	if cfg.WebhookURL != "" {
		if ok, err := client.RegisterWebhookURL(ctx, cfg.WebhookURL); err != nil {
			log.Warn().Err(err).Msg("webhook registration failed; relying on polling and sweeping")
		} else if !ok {
			log.Info().Msg("API has no webhook support; relying on polling and sweeping")
		}
	}

	go sw.Run(ctx)
	log.Info().Msg("breez gateway started")
	return app, nil
}

// Mount registers the REST surface on the host router.
func (a *App) Mount(r gin.IRouter) {
	routes.Register(r, a.handlers)
}

// Stop halts the sweeper.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.log.Info().Msg("breez gateway stopped")
}
