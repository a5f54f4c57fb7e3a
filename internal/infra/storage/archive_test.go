package storage

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

var archive *Storage

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	ctx := context.Background()

	ls, err := localstack.Run(ctx,
		"localstack/localstack:3.8",
		testcontainers.WithEnv(map[string]string{"SERVICES": "s3"}),
	)
	if err != nil {
		log.Fatalf("failed to start localstack: %v", err)
	}

	mappedPort, err := ls.MappedPort(ctx, "4566/tcp")
	if err != nil {
		log.Fatalf("failed to get port: %v", err)
	}
	host, err := ls.Host(ctx)
	if err != nil {
		log.Fatalf("failed to get host: %v", err)
	}

	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	os.Setenv("AWS_REGION", "us-east-1")
	os.Setenv("AWS_ENDPOINT_URL", "http://"+host+":"+mappedPort.Port())

	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("can't load aws config: %v", err)
	}
	archive = NewStorage(cfg, &ArchiveConfig{Bucket: "billing-archive", Prefix: "webhooks"})
	if _, err = archive.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("billing-archive")}); err != nil {
		log.Fatalf("failed to create bucket %v", err)
	}

	exitCode := m.Run()

	if err := ls.Terminate(ctx); err != nil {
		log.Printf("failed to terminate localstack: %s", err)
	}

	os.Exit(exitCode)
}

func TestKeyIsDatedByEventCreation(t *testing.T) {
	s := &Storage{prefix: "webhooks"}
	created := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("CET", 3600))

	require.Equal(t, "webhooks/2026/03/07/evt_1.json", s.Key("evt_1", created))
}

func TestArchiveStoresPayload(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()
	payload := []byte(`{"id":"evt_archive","type":"invoice.paid"}`)
	created := time.Unix(1700000000, 0)

	require.NoError(t, archive.Archive(ctx, "evt_archive", created, payload))

	stored, err := archive.GetFile(ctx, archive.Key("evt_archive", created))
	require.NoError(t, err)
	require.Equal(t, payload, stored)
}
