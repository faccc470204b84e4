// Command orderd runs the interpreter order lifecycle: the cron-driven search
// dispatcher and expiry sweep, plus the ops HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-interpreter-orders/internal/conferencing"
	"github.com/tbourn/go-interpreter-orders/internal/config"
	httpapi "github.com/tbourn/go-interpreter-orders/internal/http"
	"github.com/tbourn/go-interpreter-orders/internal/notify"
	"github.com/tbourn/go-interpreter-orders/internal/observability"
	"github.com/tbourn/go-interpreter-orders/internal/pricing"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
	"github.com/tbourn/go-interpreter-orders/internal/scheduler"
	"github.com/tbourn/go-interpreter-orders/internal/search"
	"github.com/tbourn/go-interpreter-orders/internal/services"
	"github.com/tbourn/go-interpreter-orders/internal/sysutil"
	"github.com/tbourn/go-interpreter-orders/internal/timeframe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	log := sysutil.NewLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("orderd stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	dsn := cfg.DB.Path
	if cfg.DB.Driver == "postgres" {
		dsn = cfg.DB.URL
	}
	db, err := repo.Open(cfg.DB.Driver, dsn)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	var sender notify.Sender = notify.LogSender{Log: log.With().Str("component", "notify").Logger()}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		ks, err := notify.NewKafkaSender(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		if err != nil {
			return err
		}
		defer func() {
			if err := ks.Close(); err != nil {
				log.Warn().Err(err).Msg("kafka producer close")
			}
		}()
		sender = ks
	}
	notifier := notify.NewDispatcher(sender, log, notify.Options{
		Timeout: cfg.Notify.Timeout,
		RPS:     cfg.Notify.RPS,
		Burst:   cfg.Notify.Burst,
	})
	// Runs before the producer is closed.
	defer notifier.Wait()

	rates := pricing.DefaultFlatRate()
	if err := rates.Apply(pricing.Overrides{
		RemoteHourly:      cfg.Pricing.RemoteHourly,
		OnSiteHourly:      cfg.Pricing.OnSiteHourly,
		CorporateDiscount: cfg.Pricing.CorporateDiscount,
		GSTRate:           cfg.Pricing.GSTRate,
	}); err != nil {
		return err
	}

	var meetings conferencing.MeetingDeleter
	if cfg.Meetings.BaseURL != "" {
		meetings = conferencing.NewClient(cfg.Meetings.BaseURL, cfg.Meetings.APIKey, cfg.Meetings.Timeout)
	} else {
		log.Warn().Msg("MEETINGS_BASE_URL not set; external meetings will not be deleted")
	}

	engine := &search.Stepper{
		DB:             db,
		Notifier:       notifier,
		AdminRecipient: cfg.Dispatch.AdminRecipient,
		Log:            log.With().Str("component", "search").Logger(),
	}
	orders := &services.OrderService{
		DB:                db,
		TimeFrames:        timeframe.NewBaseline(),
		Pricing:           rates,
		PlatformCompanyID: cfg.PlatformCompanyID,
		Log:               log,
	}
	dispatcher := &services.SearchDispatcher{
		DB:                  db,
		OnDemand:            engine,
		PreBookedIndividual: engine,
		PreBookedGroup:      engine,
		GroupRestartDelay:   cfg.Dispatch.GroupRestartDelay,
		Log:                 log,
	}
	expiry := &services.ExpirationService{
		DB:       db,
		Meetings: meetings,
		Notifier: notifier,
		Log:      log,
	}
	sched := &scheduler.Scheduler{
		DB:             db,
		Dispatch:       dispatcher,
		Cancel:         expiry,
		BatchSize:      cfg.Dispatch.BatchSize,
		FailureBackoff: cfg.Dispatch.FailureBackoff,
		Log:            log.With().Str("component", "scheduler").Logger(),
	}
	if err := sched.Start(cfg.Dispatch.Schedule); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		sched.Stop(sctx)
	}()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:         db,
		Lifecycle:  sched,
		TimeFrames: orders,
		Log:        log,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("orderd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}
