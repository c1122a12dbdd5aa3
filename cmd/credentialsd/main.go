package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/activitymap"
	"github.com/goliatone/go-credentials/mailer"
	"github.com/goliatone/go-credentials/persistence"
	"github.com/goliatone/go-credentials/ratelimit"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"
)

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Debug),
		glog.WithName("credentials"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	if err := run(lgr); err != nil {
		lgr.Error("credentials service stopped", "error", err)
		os.Exit(1)
	}
}

func run(lgr *glog.BaseLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := auth.LoadConfig()
	if err != nil {
		return err
	}

	db, err := persistence.OpenAndMigrate(ctx, cfg.DatabaseDSN, lgr.GetLogger("persistence"))
	if err != nil {
		return err
	}
	defer db.Close()

	sink, err := notificationSink(cfg, lgr)
	if err != nil {
		return err
	}

	opts := append(auth.OptionsFromConfig(cfg),
		auth.WithLoggerProvider(lgr),
		auth.WithNotificationSink(sink),
		auth.WithNotificationRenderer(auth.NewTemplateRenderer(nil, "", cfg.AppName)),
		auth.WithActivitySink(activitymap.NewLogSink(lgr.GetLogger("activity"))),
	)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts = append(opts, auth.WithAttemptLimiter(ratelimit.NewFixedWindow(rdb,
			ratelimit.WithBudget(cfg.RateLimitBudget),
			ratelimit.WithWindow(cfg.RateLimitWindow),
			ratelimit.WithPrefix(cfg.RateLimitPrefix),
		)))
	}

	store := auth.NewCredentialStore(db)
	tokens := auth.NewTokenServiceFromConfig(cfg, lgr.GetLogger("tokens"))
	accounts := auth.NewAccounts(store, tokens, opts...)

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.OperationTimeout + 5*time.Second,
	})

	auth.NewController(accounts,
		auth.WithControllerLogger(lgr.GetLogger("auth.http")),
		auth.WithSecureCookies(cfg.SecureCookies),
	).Register(app)

	errCh := make(chan error, 1)
	go func() {
		lgr.Info("credentials service listening", "addr", cfg.HTTPAddr)
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lgr.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func notificationSink(cfg auth.Config, lgr *glog.BaseLogger) (auth.NotificationSink, error) {
	if cfg.SMTPAddr == "" {
		return mailer.NewLogSink(lgr.GetLogger("mailer")), nil
	}
	sink, err := mailer.NewSMTPSink(mailer.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp sink: %w", err)
	}
	return sink, nil
}
