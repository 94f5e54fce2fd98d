package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3Source struct {
	client *s3.Client
	bucket string
	prefix string
	limits Limits
}

// NewS3Source builds an S3-backed source from S3_BUCKET and optional
// S3_PREFIX, using the default AWS credential chain.
func NewS3Source(ctx context.Context) (Source, error) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET required when enabling s3 source")
	}
	prefix := os.Getenv("S3_PREFIX")
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &s3Source{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		limits: Limits{MaxCall: DefaultMaxCall, Align: DefaultAlign},
	}, nil
}

func (s *s3Source) Name() string {
	return "s3"
}

func (s *s3Source) Limits() Limits {
	return s.limits
}

func (s *s3Source) Read(ctx context.Context, ref string, offset, length int64) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(ref)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	data := make([]byte, length)
	if _, err := io.ReadFull(out.Body, data); err != nil {
		return nil, fmt.Errorf("s3 source: read body: %w", err)
	}
	return data, nil
}

func (s *s3Source) keyFor(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return path.Join(s.prefix, ref)
}
