package publish

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
)

var ErrDisabled = errors.New("publish: no backend configured")

// Publisher uploads a finished file and returns the URL it can be fetched from.
type Publisher interface {
	Publish(ctx context.Context, key, path, contentType string) (string, error)
}

// Config selects and configures a backend. An empty Backend disables
// publishing.
type Config struct {
	Backend   string `yaml:"backend"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Backend) != ""
}

// New builds the configured backend. It returns ErrDisabled when no backend
// is set so callers can skip publishing.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("publish: bucket is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "s3":
		return NewS3(ctx, cfg, logger)
	case "minio":
		return NewMinIO(cfg, logger)
	default:
		return nil, fmt.Errorf("publish: unknown backend %q", cfg.Backend)
	}
}

// objectKey joins the configured prefix and key with forward slashes.
func objectKey(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		return path.Join(p, key)
	}
	return key
}
