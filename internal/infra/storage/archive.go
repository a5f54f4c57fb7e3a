package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/Builder-Lawyers/billing-backend/pkg/env"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type ArchiveConfig struct {
	Bucket string
	Prefix string
}

func NewArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Bucket: env.GetEnv("ARCHIVE_BUCKET", ""),
		Prefix: env.GetEnv("ARCHIVE_PREFIX", "webhooks"),
	}
}

func (c *ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// Storage writes raw webhook payloads to S3 compatible storage.
type Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewStorage(config aws.Config, cfg *ArchiveConfig) *Storage {
	return &Storage{
		client: initClient(config),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

func initClient(config aws.Config) *s3.Client {
	client := s3.NewFromConfig(config, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client
}

// Key is <prefix>/<yyyy>/<mm>/<dd>/<event id>.json, dated by the event creation time.
func (s *Storage) Key(eventID string, created time.Time) string {
	return path.Join(s.prefix, created.UTC().Format("2006/01/02"), eventID+".json")
}

func (s *Storage) Archive(ctx context.Context, eventID string, created time.Time, payload []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.Key(eventID, created)),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
	})
	if err != nil {
		return fmt.Errorf("error archiving payload %s, %v", eventID, err)
	}
	return nil
}

func (s *Storage) GetFile(ctx context.Context, key string) ([]byte, error) {
	params := &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(key),
	}
	resp, err := s.client.GetObject(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("error downloading file %v: %v", key, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading file contents, %v", err)
	}

	return data, nil
}
