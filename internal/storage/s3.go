package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// FolderArchive is the S3 prefix for archived booking batches.
const FolderArchive = "archive/bookings"

type S3Config struct {
	Region string
	Bucket string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveSink exports archived booking batches as JSON documents.
type ArchiveSink struct {
	client objectPutter
	bucket string
	logger *zap.Logger
}

func NewArchiveSink(ctx context.Context, cfg S3Config, logger *zap.Logger) (*ArchiveSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newArchiveSink(s3.NewFromConfig(awsCfg), cfg.Bucket, logger), nil
}

func newArchiveSink(client objectPutter, bucket string, logger *zap.Logger) *ArchiveSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{client: client, bucket: bucket, logger: logger}
}

// ArchiveKey returns the object key for one batch.
func ArchiveKey(at time.Time, batch int) string {
	return path.Join(FolderArchive, at.UTC().Format("2006/01/02"), fmt.Sprintf("batch-%s-%04d.json", at.UTC().Format("150405"), batch))
}

// Export uploads rows under key. Overwriting a key is harmless, so an
// interrupted archive run can repeat a batch.
func (a *ArchiveSink) Export(ctx context.Context, key string, rows any) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal archive batch: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.logger.Error("archive export failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("put archive object: %w", err)
	}
	a.logger.Info("archive batch exported", zap.String("bucket", a.bucket), zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}
