// Package services holds cross-module services that are not part of the
// accounting core.
package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupService uploads database snapshots to S3-compatible storage.
// Optional: the server runs without it when no backup bucket is
// configured.
type BackupService struct {
	uploader *manager.Uploader
	bucket   string
	dbPath   string
	log      zerolog.Logger
}

// NewBackupService creates a backup service. A non-empty endpoint points
// the client at an S3-compatible provider.
func NewBackupService(ctx context.Context, bucket, endpoint, dbPath string, log zerolog.Logger) (*BackupService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BackupService{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		dbPath:   dbPath,
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// Name returns the job name
func (s *BackupService) Name() string { return "snapshot_backup" }

// Run uploads the current database file
func (s *BackupService) Run() error {
	file, err := os.Open(s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer file.Close()

	key := fmt.Sprintf("poolhouse-%s.db", time.Now().UTC().Format("20060102-150405"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	s.log.Info().Str("key", key).Msg("Snapshot uploaded")
	return nil
}
