package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/bilgisen/contentgen/internal/models"
)

// Archiver copies completed content to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, item *models.Content) error
}

// Config holds the R2 (S3-compatible) settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// Enabled reports whether enough settings are present to reach a bucket.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != ""
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Archiver writes each completed item as a JSON object.
type R2Archiver struct {
	bucket string
	client objectPutter
	log    zerolog.Logger
}

var _ Archiver = (*R2Archiver)(nil)

// New returns an R2Archiver, or a no-op archiver when cfg is incomplete.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Archiver, error) {
	log = log.With().Str("component", "archive").Logger()
	if !cfg.Enabled() {
		log.Info().Msg("R2 bucket or credentials are not set; archiving disabled")
		return Nop{}, nil
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &R2Archiver{bucket: cfg.Bucket, client: client, log: log}, nil
}

// ObjectKey is where item is stored in the bucket.
func ObjectKey(item *models.Content) string {
	return fmt.Sprintf("contents/%s/%s.json", item.UserID, item.ID.Hex())
}

func (a *R2Archiver) Archive(ctx context.Context, item *models.Content) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	key := ObjectKey(item)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"content-type-label": string(item.Type),
			"status":             string(item.Status),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	a.log.Debug().Str("key", key).Msg("content archived")
	return nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) Archive(context.Context, *models.Content) error { return nil }
