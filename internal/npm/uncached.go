package npm

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/devoto13/types-publisher/fetch"
)

const (
	DefaultRegistryURL = "https://registry.npmjs.org"
	DefaultAPIURL      = "https://api.npmjs.org"

	// notFoundMessage is the registry's error payload for a missing package.
	// It is the only error value that is a normal outcome rather than a failure.
	notFoundMessage = "Not found"

	// registryPause is how long to wait after each registry fetch before the
	// next request to the same host. registry.npmjs.org has been observed to
	// drop connections opened immediately after a previous response; this is
	// connection-reset avoidance, not throughput shaping.
	registryPause = 10 * time.Millisecond
)

// UncachedClient fetches package metadata straight from the registry.
// It never consults a cache.
type UncachedClient struct {
	registryURL string
	apiURL      string
	fetcher     fetch.Interface
	logger      *log.Logger
}

// UncachedOption configures an UncachedClient.
type UncachedOption func(*UncachedClient)

// WithBaseURLs overrides the registry and downloads-API base URLs.
func WithBaseURLs(registry, api string) UncachedOption {
	return func(c *UncachedClient) {
		c.registryURL = registry
		c.apiURL = api
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *log.Logger) UncachedOption {
	return func(c *UncachedClient) {
		c.logger = l
	}
}

// NewUncachedClient creates a client for the npm registry endpoints.
func NewUncachedClient(f fetch.Interface, opts ...UncachedOption) *UncachedClient {
	c := &UncachedClient{
		registryURL: DefaultRegistryURL,
		apiURL:      DefaultAPIURL,
		fetcher:     f,
		logger:      log.NewWithOptions(io.Discard, log.Options{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// registryDocument is a package document plus the registry's error envelope;
// error payloads arrive in the same JSON shape as regular documents.
type registryDocument struct {
	infoRaw
	Error string `json:"error"`
}

// Info fetches and normalizes the registry document for a package.
// It returns (nil, nil) when the registry reports the package does not exist.
func (c *UncachedClient) Info(ctx context.Context, name string) (*Info, error) {
	u := fmt.Sprintf("%s/%s", c.registryURL, url.PathEscape(name))

	var doc registryDocument
	err := c.fetcher.GetJSON(ctx, u, &doc)
	if err == nil || errors.Is(err, fetch.ErrNotFound) {
		c.pause(ctx)
	}
	switch {
	case errors.Is(err, fetch.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrapf(err, "fetching npm info for %s", name)
	}

	if doc.Error == notFoundMessage {
		return nil, nil
	}
	if doc.Error != "" {
		return nil, errors.Newf("npm registry error for %s: %s", name, doc.Error)
	}

	c.logger.Debug("fetched npm info", "package", name, "versions", len(doc.Versions))
	info := newInfo(&doc.infoRaw)
	return &info, nil
}

// Downloads returns the package's download count for the last month.
// Packages unknown to the stats endpoint count as zero.
func (c *UncachedClient) Downloads(ctx context.Context, name string) (int64, error) {
	u := fmt.Sprintf("%s/downloads/point/last-month/%s", c.apiURL, name)

	var resp struct {
		Downloads *int64 `json:"downloads"`
	}
	err := c.fetcher.GetJSON(ctx, u, &resp)
	switch {
	case errors.Is(err, fetch.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, errors.Wrapf(err, "fetching download count for %s", name)
	}

	if resp.Downloads == nil {
		return 0, nil
	}
	return *resp.Downloads, nil
}

func (c *UncachedClient) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(registryPause):
	}
}
