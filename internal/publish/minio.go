package publish

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIO publishes to a MinIO (or other S3-compatible) endpoint.
type MinIO struct {
	client *minio.Client
	cfg    Config
	logger *zap.Logger
}

func NewMinIO(cfg Config, logger *zap.Logger) (*MinIO, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if endpoint == "" {
		return nil, fmt.Errorf("publish: minio endpoint is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinIO{client: client, cfg: cfg, logger: logger}, nil
}

func (m *MinIO) Publish(ctx context.Context, key, path, contentType string) (string, error) {
	key = objectKey(m.cfg.Prefix, key)
	info, err := m.client.FPutObject(ctx, m.cfg.Bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	m.logger.Info("published to minio",
		zap.String("bucket", m.cfg.Bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size))
	u := *m.client.EndpointURL()
	u.Path = "/" + m.cfg.Bucket + "/" + key
	return u.String(), nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
