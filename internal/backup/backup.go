// Package backup ships the newest local archive to S3-compatible storage.
package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/config"
)

var ErrNoFiles = errors.New("no files match backup pattern")

// ObjectPutter is the subset of *s3.Client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
	log    *zap.Logger
}

func NewUploader(client ObjectPutter, bucket, prefix string, log *zap.Logger) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
	}
}

// NewS3Uploader builds an uploader for AWS S3 or any S3-compatible endpoint
// such as MinIO. Static keys are used when set, otherwise the default AWS
// credential chain.
func NewS3Uploader(ctx context.Context, cfg *config.BackupConfig, log *zap.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("backup bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, errors.New("backup access key and secret key must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid backup endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewUploader(client, cfg.Bucket, cfg.Prefix, log), nil
}

// LatestFile returns the most recently modified regular file in dir whose
// name matches pattern.
func LatestFile(dir, pattern string) (string, os.FileInfo, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return "", nil, fmt.Errorf("invalid backup pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var (
		best     string
		bestInfo os.FileInfo
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if bestInfo == nil || info.ModTime().After(bestInfo.ModTime()) {
			best, bestInfo = e.Name(), info
		}
	}

	if bestInfo == nil {
		return "", nil, fmt.Errorf("%w: %s in %s", ErrNoFiles, pattern, dir)
	}
	return filepath.Join(dir, best), bestInfo, nil
}

// Keys returns the object keys a local file is stored under: its own name
// and a stable latest copy keeping the full extension.
func (u *Uploader) Keys(filename string) []string {
	base := filepath.Base(filename)
	ext := ""
	if i := strings.Index(base, "."); i > 0 {
		ext = base[i:]
	}
	return []string{
		path.Join(u.prefix, base),
		path.Join(u.prefix, "latest"+ext),
	}
}

// Upload puts the file at localPath under every key from Keys.
func (u *Uploader) Upload(ctx context.Context, localPath string) ([]string, error) {
	keys := u.Keys(localPath)
	for _, key := range keys {
		if err := u.put(ctx, localPath, key); err != nil {
			return nil, err
		}
		u.log.Info("backup uploaded",
			zap.String("bucket", u.bucket),
			zap.String("key", key),
			zap.String("file", localPath),
		)
	}
	return keys, nil
}

func (u *Uploader) put(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat backup file: %w", err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Run uploads the newest file matching the configured pattern.
func Run(ctx context.Context, cfg *config.BackupConfig, u *Uploader) ([]string, error) {
	latest, _, err := LatestFile(cfg.Dir, cfg.Pattern)
	if err != nil {
		return nil, err
	}
	return u.Upload(ctx, latest)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".json"), strings.HasSuffix(name, ".jsonl"):
		return "application/json"
	case strings.HasSuffix(name, ".db"), strings.HasSuffix(name, ".sqlite"):
		return "application/vnd.sqlite3"
	default:
		return "application/octet-stream"
	}
}
