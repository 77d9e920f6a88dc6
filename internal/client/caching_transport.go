package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/logger"
)

const maxAssetSize = 10 << 20

// AssetClient fetches public static assets such as avatar images. It never
// carries the session credential, so cached responses cannot outlive a
// logout with private data in them.
type AssetClient struct {
	http *http.Client
}

// NewAssetClient creates an asset client with disk-based caching.
// If cacheDir is empty, responses are cached in memory only.
func NewAssetClient(cacheDir string) *AssetClient {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		// Use disk-based cache for persistence across restarts
		cache = diskcache.New(cacheDir)
	}

	t := httpcache.NewTransport(cache)
	t.Transport = http.DefaultTransport

	return &AssetClient{
		http: &http.Client{Transport: logger.NewRequestLogger(log.Logger, t)},
	}
}

// Fetch downloads the asset at rawURL.
func (a *AssetClient) Fetch(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, &APIError{StatusCode: resp.StatusCode, Method: http.MethodGet, Path: req.URL.Path}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}

	cached := resp.Header.Get(httpcache.XFromCache) == "1"

	return data, cached, nil
}

// Download writes the asset at rawURL to dest.
func (a *AssetClient) Download(ctx context.Context, rawURL, dest string) error {
	data, cached, err := a.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	log.Debug().Str("url", rawURL).Str("dest", dest).Bool("cached", cached).Msg("asset downloaded")

	return nil
}
