package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application"
	"github.com/Builder-Lawyers/billing-backend/internal/application/commands/billing"
	"github.com/Builder-Lawyers/billing-backend/internal/application/processors"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/client/provider"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/mail"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/metrics"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/storage"
	"github.com/Builder-Lawyers/billing-backend/internal/presentation/rest"
	"github.com/Builder-Lawyers/billing-backend/internal/presentation/scheduler"
	"github.com/Builder-Lawyers/billing-backend/migrations"
	"github.com/Builder-Lawyers/billing-backend/pkg/db"
	"github.com/Builder-Lawyers/billing-backend/pkg/env"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func Init() {
	env.SetupEnvFile()

	// DB
	dbConfig := db.NewConfig()
	if env.GetBool("DB_MIGRATE_ON_START", false) {
		if err := db.MigrateUp(migrations.FS, dbConfig.GetMigrateURL()); err != nil {
			log.Panicf("failed to migrate db: %v", err)
		}
	}
	pool, err := db.NewPool(context.Background(), dbConfig)
	if err != nil {
		log.Panicf("failed to create pool: %v", err)
	}
	uowFactory := db.NewUoWFactory(pool)

	// Configs
	billingConfig, err := billing.NewConfig()
	if err != nil {
		log.Panicf("invalid billing config: %v", err)
	}
	if err = billingConfig.Validate(); err != nil {
		log.Panic(err)
	}
	providerConfig := provider.NewConfig()
	if err = providerConfig.Validate(); err != nil {
		log.Panicf("invalid provider config: %v", err)
	}
	outboxConfig := scheduler.NewOutboxConfig()
	mailConfig := mail.NewMailConfig()
	archiveConfig := storage.NewArchiveConfig()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	var archive billing.PayloadArchive
	if archiveConfig.Enabled() {
		// AWS
		cfg, err := awsConfig.LoadDefaultConfig(context.TODO())
		if err != nil {
			log.Panic("can't load aws config", err)
		}
		archive = storage.NewStorage(cfg, archiveConfig)
	}

	var mailSender processors.MailSender
	if mailConfig.Enabled() {
		mailSender = mail.NewMailServer(mailConfig)
	}

	handlers := &application.Handlers{
		Webhook:  billing.NewWebhook(billingConfig, uowFactory, provider.NewClient(providerConfig, m), archive, m),
		SendMail: processors.NewSendMail(mailSender, uowFactory),
	}
	handler := rest.NewServer(handlers, pool)
	app := fiber.New(fiber.Config{
		IdleTimeout: 5 * time.Second,
	})
	rest.RegisterHandlers(app, handler, registry)

	outboxPoller := scheduler.NewOutboxPoller(handlers, uowFactory, outboxConfig)
	go outboxPoller.Start()

	addr := env.GetEnv("HTTP_ADDR", ":8080")
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Panic(err)
		}
	}()
	slog.Info("billing webhook listening", "addr", addr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	_ = <-c
	fmt.Println("Gracefully shutting down...")
	_ = app.ShutdownWithTimeout(10 * time.Second)
	outboxPoller.Stop()

	fmt.Println("Running cleanup tasks...")

	uowFactory.Pool.Close()
	fmt.Println("Fiber was successfully shutdown.")
}
