package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/common"
	"example.com/certgate/internal/fonts"
	"example.com/certgate/internal/publish"
)

// TimestampLayout is the form timestamps take in digests and payloads.
const TimestampLayout = "2006-01-02 15:04:05"

type FontConfig struct {
	Family    string  `yaml:"family"`
	File      string  `yaml:"file"`
	Direction string  `yaml:"direction"`
	Size      float64 `yaml:"size"`
	Color     string  `yaml:"color"`
}

type PositionConfig struct {
	X *int `yaml:"x"`
	Y *int `yaml:"y"`
}

// Point returns nil unless both coordinates are set, so the layout default
// applies to partially configured positions.
func (p PositionConfig) Point() *certificate.Point {
	if p.X == nil || p.Y == nil {
		return nil
	}
	return &certificate.Point{X: *p.X, Y: *p.Y}
}

type HashConfig struct {
	Enabled *bool `yaml:"enabled"`
	X       *int  `yaml:"x"`
	Y       *int  `yaml:"y"`
}

type QRConfig struct {
	X    *int `yaml:"x"`
	Y    *int `yaml:"y"`
	Size int  `yaml:"size"`
}

type NamesConfig struct {
	File   string `yaml:"file"`
	Header *bool  `yaml:"header"`
}

type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Format      string `yaml:"format"`
	Archive     *bool  `yaml:"archive"`
	ArchiveName string `yaml:"archiveName"`
	// Ledger is an append-only JSONL record of issued certificates.
	Ledger      string `yaml:"ledger"`
}

type FontsConfig struct {
	CacheDir string `yaml:"cacheDir"`
}

type SigningConfig struct {
	PrivateKey  string `yaml:"privateKey"`
	Certificate string `yaml:"certificate"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	StorageDir  string `yaml:"storageDir"`
	MaxUploadMB int    `yaml:"maxUploadMB"`
}

type Config struct {
	Event     string           `yaml:"event"`
	Timestamp string           `yaml:"timestamp"`
	Template  string           `yaml:"template"`
	Names     NamesConfig      `yaml:"names"`
	Font      FontConfig       `yaml:"font"`
	Name      PositionConfig   `yaml:"name"`
	Hash      HashConfig       `yaml:"hash"`
	QR        QRConfig         `yaml:"qr"`
	Output    OutputConfig     `yaml:"output"`
	Workers   int              `yaml:"workers"`
	Fonts     FontsConfig      `yaml:"fonts"`
	Signing   SigningConfig    `yaml:"signing"`
	Publish   publish.Config   `yaml:"publish"`
	Server    ServerConfig     `yaml:"server"`
	Logs      common.LogConfig `yaml:"logs"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file (path may be empty), fills defaults and then
// applies CERTGATE_* environment overrides, reading .env first when present.
// Relative paths in the file are resolved against the file's directory.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths(baseDir string) {
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	c.Template = resolvePath(c.Template)
	c.Names.File = resolvePath(c.Names.File)
	c.Font.File = resolvePath(c.Font.File)
	c.Output.Ledger = resolvePath(c.Output.Ledger)
	c.Signing.PrivateKey = resolvePath(c.Signing.PrivateKey)
	c.Signing.Certificate = resolvePath(c.Signing.Certificate)
}

func (c *Config) applyDefaults() {
	if c.Font.Family == "" && c.Font.File == "" {
		c.Font.Family = fonts.BundledFamily
	}
	if c.Font.Size <= 0 {
		c.Font.Size = certificate.DefaultFontSize
	}
	if c.Font.Color == "" {
		c.Font.Color = "#000000"
	}
	if c.QR.Size <= 0 {
		c.QR.Size = certificate.DefaultQRSize
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "certificates"
	}
	if c.Output.Format == "" {
		c.Output.Format = string(certificate.FormatPDF)
	}
	if c.Output.ArchiveName == "" {
		c.Output.ArchiveName = "certificates.zip"
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Fonts.CacheDir == "" {
		c.Fonts.CacheDir = defaultCacheDir()
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.StorageDir == "" {
		c.Server.StorageDir = filepath.Join(".", "data")
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 64
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "certgate", "fonts")
	}
	return filepath.Join(".", ".cache", "fonts")
}

func (c *Config) applyEnv() {
	setString(&c.Event, "CERTGATE_EVENT")
	setString(&c.Timestamp, "CERTGATE_TIMESTAMP")
	setString(&c.Template, "CERTGATE_TEMPLATE")
	setString(&c.Names.File, "CERTGATE_NAMES")
	setString(&c.Font.Family, "CERTGATE_FONT_FAMILY")
	setString(&c.Font.File, "CERTGATE_FONT_FILE")
	setString(&c.Font.Direction, "CERTGATE_FONT_DIRECTION")
	setString(&c.Font.Color, "CERTGATE_FONT_COLOR")
	if v, ok := lookup("CERTGATE_FONT_SIZE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Font.Size = f
		}
	}
	setString(&c.Output.Dir, "CERTGATE_OUTPUT_DIR")
	setString(&c.Output.Format, "CERTGATE_OUTPUT_FORMAT")
	setString(&c.Output.Ledger, "CERTGATE_LEDGER")
	setInt(&c.Workers, "CERTGATE_WORKERS")
	setString(&c.Fonts.CacheDir, "CERTGATE_FONT_CACHE_DIR")
	setString(&c.Signing.PrivateKey, "CERTGATE_SIGNING_KEY")
	setString(&c.Signing.Certificate, "CERTGATE_SIGNING_CERT")
	setString(&c.Publish.Backend, "CERTGATE_PUBLISH_BACKEND")
	setString(&c.Publish.Bucket, "CERTGATE_PUBLISH_BUCKET")
	setString(&c.Publish.Prefix, "CERTGATE_PUBLISH_PREFIX")
	setString(&c.Publish.Region, "CERTGATE_PUBLISH_REGION")
	setString(&c.Publish.Endpoint, "CERTGATE_PUBLISH_ENDPOINT")
	setString(&c.Publish.AccessKey, "CERTGATE_PUBLISH_ACCESS_KEY")
	setString(&c.Publish.SecretKey, "CERTGATE_PUBLISH_SECRET_KEY")
	setInt(&c.Server.Port, "CERTGATE_PORT")
	setString(&c.Server.StorageDir, "CERTGATE_STORAGE_DIR")
	setString(&c.Logs.Directory, "CERTGATE_LOG_DIR")
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if _, err := fonts.ParseDirection(c.Font.Direction); err != nil {
		return err
	}
	if _, err := certificate.ParseColor(c.Font.Color); err != nil {
		return fmt.Errorf("font.color: %w", err)
	}
	if _, err := certificate.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if c.Font.File == "" {
		if _, ok := fonts.Lookup(c.Font.Family); !ok {
			return fmt.Errorf("font.family: %w: %s", fonts.ErrUnknownFamily, c.Font.Family)
		}
	}
	if c.Timestamp != "" {
		if _, err := time.Parse(TimestampLayout, c.Timestamp); err != nil {
			return fmt.Errorf("timestamp must look like %q: %w", TimestampLayout, err)
		}
	}
	return nil
}

// FontRequest describes the configured font for fonts.Resolver.
func (c Config) FontRequest() fonts.Request {
	dir, _ := fonts.ParseDirection(c.Font.Direction)
	if strings.TrimSpace(c.Font.Direction) == "" {
		dir = ""
	}
	return fonts.Request{Family: c.Font.Family, File: c.Font.File, Direction: dir}
}

// Style builds the compositor style around an already resolved font.
func (c Config) Style(f *fonts.Font) (certificate.Style, error) {
	col, err := certificate.ParseColor(c.Font.Color)
	if err != nil {
		return certificate.Style{}, err
	}
	style := certificate.Style{
		Font:     f,
		FontSize: c.Font.Size,
		Color:    col,
		Name:     c.Name.Point(),
		Hash:     PositionConfig{X: c.Hash.X, Y: c.Hash.Y}.Point(),
		HideHash: c.Hash.Enabled != nil && !*c.Hash.Enabled,
		QR:       PositionConfig{X: c.QR.X, Y: c.QR.Y}.Point(),
		QRSize:   c.QR.Size,
	}
	return style, nil
}

func (c Config) Format() certificate.Format {
	f, err := certificate.ParseFormat(c.Output.Format)
	if err != nil {
		return certificate.FormatPDF
	}
	return f
}

func (c Config) ArchiveEnabled() bool {
	return c.Output.Archive == nil || *c.Output.Archive
}

func (c Config) HeaderRow() bool {
	return c.Names.Header == nil || *c.Names.Header
}

// RunTimestamp is the configured timestamp, or now when none is set. One
// value is used for the whole batch.
func (c Config) RunTimestamp(now time.Time) string {
	if c.Timestamp != "" {
		return c.Timestamp
	}
	return now.Format(TimestampLayout)
}

// WithDefaults returns c with every unset value filled in.
func (c Config) WithDefaults() Config {
	c.applyDefaults()
	return c
}
