// Package backup exports the embedded store's database file to S3-
// compatible object storage. It is the only place in this codebase that
// wires the AWS SDK the teacher module depends on but never itself
// calls — see DESIGN.md for why this home was chosen.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config configures where backups land.
type Config struct {
	Bucket    string
	Prefix    string // key prefix, e.g. "farmd/backups"
	Region    string
	Endpoint  string // non-empty to target an S3-compatible endpoint instead of AWS
}

// Uploader uploads snapshots of the embedded SQLite database file to
// object storage; the caller decides when (cmd/farmd runs it from its
// own ticker loop).
type Uploader struct {
	cfg      Config
	client   *s3.Client
	uploader *manager.Uploader
	log      zerolog.Logger
}

// New resolves AWS credentials from the standard provider chain (env vars,
// shared config, instance profile) and constructs an Uploader.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Uploader, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		cfg:      cfg,
		client:   client,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "backup_uploader").Logger(),
	}, nil
}

// BackupDatabase streams the file at dbPath to the configured bucket
// under a timestamped key, so a restore always has the full file it
// needs without reassembling incremental diffs.
func (u *Uploader) BackupDatabase(ctx context.Context, dbPath string, at time.Time) (string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("open database file: %w", err)
	}
	defer f.Close()

	key := filepath.ToSlash(filepath.Join(u.cfg.Prefix, at.UTC().Format("2006/01/02"), fmt.Sprintf("%s-%d.sqlite", filepath.Base(dbPath), at.Unix())))

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("upload backup: %w", err)
	}

	u.log.Info().Str("key", key).Msg("uploaded database backup")
	return key, nil
}
