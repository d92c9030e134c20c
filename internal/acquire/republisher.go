package acquire

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	u "scorefetch/internal/utils"
)

// ObjectPutter is the slice of the S3 API the republisher needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Republisher copies an acquired PDF into our own object storage so the
// canonical record no longer depends on the external archive's availability.
// Keys are deterministic per slug; re-running acquisition for the same slug
// replaces the prior artifact and the public URL never changes.
type Republisher struct {
	client  ObjectPutter
	bucket  string
	region  string
	prefix  string
	timeout time.Duration
}

// NewRepublisher builds a Republisher backed by the real S3 client.
// Credentials come from the environment (standard AWS SDK chain).
func NewRepublisher(ctx context.Context, cfg u.Config) (*Republisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
	if err != nil {
		return nil, fmt.Errorf("cannot load AWS config: %w", err)
	}
	return NewRepublisherWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewRepublisherWithClient builds a Republisher around an injected S3 client.
func NewRepublisherWithClient(client ObjectPutter, cfg u.Config) *Republisher {
	return &Republisher{
		client:  client,
		bucket:  cfg.Storage.Bucket,
		region:  cfg.Storage.Region,
		prefix:  cfg.Storage.Prefix,
		timeout: time.Duration(cfg.Storage.UploadTimeoutSecs) * time.Second,
	}
}

// Key returns the deterministic storage key for a slug.
func (r *Republisher) Key(slug string) string {
	return path.Join(r.prefix, slug+".pdf")
}

// PublicURL returns the public URL the republished object will be served at.
func (r *Republisher) PublicURL(slug string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", r.bucket, r.region, r.Key(slug))
}

// Publish performs a single atomic put of the payload under the slug-derived
// key. The hard timeout fails fast instead of hanging the approval flow on a
// stuck upload.
func (r *Republisher) Publish(ctx context.Context, slug string, payload *PDFPayload) (string, error) {
	key := r.Key(slug)

	putCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.PutObject(putCtx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload.Bytes),
		ContentType:   aws.String("application/pdf"),
		ContentLength: aws.Int64(int64(len(payload.Bytes))),
	})
	if err != nil {
		return "", &UploadError{Key: key, Err: err}
	}

	return r.PublicURL(slug), nil
}
