package sink

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MirrorConfig configures the optional object-store mirror for run
// artifacts.
type MirrorConfig struct {
	// Endpoint is the object store host:port.
	Endpoint string

	// AccessKey and SecretKey authenticate against the store.
	AccessKey string
	SecretKey string

	// UseSSL enables TLS connections.
	UseSSL bool

	// Bucket receives the artifacts. Must already exist or be creatable.
	Bucket string

	// Prefix namespaces one run's artifacts, typically the run id.
	Prefix string
}

// Mirror uploads finished endpoint artifacts to an S3-compatible
// object store.
type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewMirror connects to the object store and ensures the bucket exists.
func NewMirror(ctx context.Context, cfg MirrorConfig) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: log.With().Str("component", "mirror").Logger(),
	}, nil
}

// Upload copies a finished local artifact into the bucket under
// <prefix>/<endpoint>.csv.
func (m *Mirror) Upload(ctx context.Context, endpoint, localPath string) error {
	object := path.Join(m.prefix, endpoint+".csv")
	info, err := m.client.FPutObject(ctx, m.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}

	m.logger.Info().
		Str("endpoint", endpoint).
		Str("bucket", m.bucket).
		Str("object", object).
		Int64("bytes", info.Size).
		Msg("Mirrored artifact to object store")
	return nil
}
