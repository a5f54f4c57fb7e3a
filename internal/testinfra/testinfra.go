package testinfra

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/Builder-Lawyers/billing-backend/migrations"
	dbs "github.com/Builder-Lawyers/billing-backend/pkg/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupDB starts postgres, applies the embedded migrations and returns a pool
// together with a func terminating the container.
func SetupDB() (*pgxpool.Pool, func()) {
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:17.2-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	if err != nil {
		log.Panicf("start postgres: %v", err)
	}

	host, err := pgC.Host(ctx)
	if err != nil {
		log.Panicf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Panicf("postgres port: %v", err)
	}
	cfg := dbs.Config{
		Host:     host,
		Port:     port.Port(),
		User:     "postgres",
		Password: "password",
		Name:     "testdb",
		SSLMode:  "disable",
		MaxConns: 10,
	}

	pool, err := pgxpool.New(ctx, cfg.GetDSN())
	if err != nil {
		log.Panicf("pgxpool connect: %v", err)
	}

	ok := false
	for i := 0; i < 20; i++ {
		slog.Info("ping db", "try", i)
		ctxPing, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			ok = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ok {
		log.Panic("db did not respond after 20 attempts")
	}

	if err = dbs.MigrateUp(migrations.FS, cfg.GetMigrateURL()); err != nil {
		log.Panicf("migrate: %v", err)
	}

	return pool, func() {
		pool.Close()
		if err := pgC.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres: %s", err)
		}
	}
}

// Reset empties every billing table between tests.
func Reset(ctx context.Context, pool *pgxpool.Pool) {
	_, err := pool.Exec(ctx, `TRUNCATE billing.webhook_event_log, billing.subscriptions, billing.customers,
		billing.billing_invoices, billing.billing_notifications, billing.outbox, billing.mails`)
	if err != nil {
		panic(fmt.Sprintf("err cleaning up billing tables %v", err))
	}
}
