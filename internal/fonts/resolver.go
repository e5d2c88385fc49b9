package fonts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	ErrUnknownFamily = errors.New("fonts: unknown font family")
	ErrCacheMiss     = errors.New("fonts: not cached")
	ErrNoFetcher     = errors.New("fonts: font is not cached and no fetcher is configured")
)

const maxFontBytes = 32 << 20

// Fetcher downloads font bytes for a catalog family.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cache stores downloaded fonts by family name. Load returns ErrCacheMiss
// when nothing is stored.
type Cache interface {
	Load(family string) ([]byte, error)
	Store(family string, data []byte) error
}

// Request names the font to resolve: either a catalog family or a local file.
// Direction overrides the catalog direction; file fonts default to ltr.
type Request struct {
	Family    string
	File      string
	Direction Direction
}

// Resolver turns a Request into a parsed Font. Resolution is the only step
// that may touch the network; rendering never does.
type Resolver struct {
	fetcher Fetcher
	cache   Cache
	logger  *zap.Logger
}

// NewResolver builds a resolver. fetcher and cache may be nil, in which case
// only bundled and file fonts (or already cached fonts) resolve.
func NewResolver(fetcher Fetcher, cache Cache, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, cache: cache, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (*Font, error) {
	if file := strings.TrimSpace(req.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read font file: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		return Parse(name, req.Direction, data)
	}
	family := strings.TrimSpace(req.Family)
	if family == "" {
		family = BundledFamily
	}
	fam, ok := Lookup(family)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	dir := fam.Direction
	if req.Direction != "" {
		dir = req.Direction
	}
	if fam.Bundled {
		return Parse(fam.Name, dir, goregular.TTF)
	}
	if r.cache != nil {
		data, err := r.cache.Load(fam.Name)
		switch {
		case err == nil:
			f, perr := Parse(fam.Name, dir, data)
			if perr == nil {
				return f, nil
			}
			r.logger.Warn("cached font is unreadable, fetching again", zap.String("family", fam.Name), zap.Error(perr))
		case !errors.Is(err, ErrCacheMiss):
			r.logger.Warn("font cache load failed", zap.String("family", fam.Name), zap.Error(err))
		}
	}
	if r.fetcher == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, fam.Name)
	}
	start := time.Now()
	data, err := r.fetcher.Fetch(ctx, fam.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch font %s: %w", fam.Name, err)
	}
	f, err := Parse(fam.Name, dir, data)
	if err != nil {
		return nil, err
	}
	r.logger.Info("font fetched",
		zap.String("family", fam.Name),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)),
	)
	if r.cache != nil {
		if err := r.cache.Store(fam.Name, data); err != nil {
			r.logger.Warn("font cache store failed", zap.String("family", fam.Name), zap.Error(err))
		}
	}
	return f, nil
}

// DirCache keeps fonts as <Dir>/<Family>.ttf.
type DirCache struct {
	Dir string
}

func (c DirCache) path(family string) string {
	return filepath.Join(c.Dir, family+".ttf")
}

func (c DirCache) Load(family string) ([]byte, error) {
	data, err := os.ReadFile(c.path(family))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	return data, err
}

// Store writes through a temp file so concurrent readers never see a partial
// font.
func (c DirCache) Store(family string, data []byte) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.Dir, family+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(family))
}

// MemoryCache is a process-local cache, shared by the daemon's requests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Load(family string) ([]byte, error) {
	c.mu.RLock()
	data, ok := c.entries[family]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	return data, nil
}

func (c *MemoryCache) Store(family string, data []byte) error {
	c.mu.Lock()
	c.entries[family] = data
	c.mu.Unlock()
	return nil
}

// HTTPFetcher downloads fonts over HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFontBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFontBytes {
		return nil, fmt.Errorf("GET %s: font larger than %d bytes", url, maxFontBytes)
	}
	return data, nil
}
