package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
)

// S3PutAPI is the part of the S3 client the archive needs.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive gzips rotated and snapshot databases and uploads them to
// s3://bucket/prefix<origin>/<file>.gz. Previews are ignored.
type S3Archive struct {
	client S3PutAPI
	bucket string
	prefix string
}

// NewS3Archive creates an archive deliverer around an existing client.
func NewS3Archive(client S3PutAPI, bucket, prefix string) *S3Archive {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// NewS3ArchiveFromEnv loads AWS credentials the standard way and targets bucket.
func NewS3ArchiveFromEnv(ctx context.Context, region, bucket, prefix string) (*S3Archive, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return NewS3Archive(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Name implements Deliverer.
func (a *S3Archive) Name() string { return "s3" }

// Durable implements Deliverer.
func (a *S3Archive) Durable() bool { return true }

// Key returns the object key used for a file record.
func (a *S3Archive) Key(rec Record) string {
	return a.prefix + path.Join(rec.Origin, filepath.Base(rec.Path)) + ".gz"
}

// Deliver implements Deliverer.
func (a *S3Archive) Deliver(ctx context.Context, rec Record) error {
	if !rec.IsFile() {
		return nil
	}

	data, err := gzipFile(rec.Path)
	if err != nil {
		return fmt.Errorf("s3: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(a.Key(rec)),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/vnd.sqlite3"),
		ContentEncoding: aws.String("gzip"),
		// Origins are ASCII after normalization; reasons may not be.
		Metadata: map[string]string{"origin": rec.Origin},
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", a.Key(rec), err)
	}
	return nil
}

func gzipFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, f); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("compress %s: %w", p, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: %w", p, err)
	}
	return buf.Bytes(), nil
}
