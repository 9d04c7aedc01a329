package npm

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// cache is the persistent package-name -> Info mapping. It is loaded once per
// session and written back exactly once when the session ends. Entries are
// stored in the registry's wire shape (Info's JSON codec handles both
// directions), so the file round-trips through the same four tracked fields.
type cache struct {
	path  string
	infos map[string]*Info
}

func loadCache(path string) (*cache, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &cache{path: path, infos: make(map[string]*Info)}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading npm info cache %s", path)
	}

	infos := make(map[string]*Info)
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, errors.Wrapf(err, "parsing npm info cache %s", path)
	}
	return &cache{path: path, infos: infos}, nil
}

func (c *cache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}

	data, err := json.MarshalIndent(c.infos, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding npm info cache")
	}

	// Write to a temp file in the same directory, then rename, so a reader
	// never observes a half-written cache.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.Wrapf(err, "renaming %s", tmp)
	}
	return nil
}

// CachedClient serves package metadata out of the session cache, falling back
// to the uncached client when the cache cannot be trusted.
type CachedClient struct {
	uncached *UncachedClient
	cache    *cache
}

// WithCache runs fn against a cache session: the cache file is loaded (or
// created empty), fn works against a CachedClient, and the cache is written
// back exactly once when fn returns - also when fn fails, so metadata learned
// for earlier packages in a batch survives a later failure.
//
// A session owns its cache file; two sessions must not run concurrently
// against the same path, or the second write wins with a disjoint view.
func WithCache(ctx context.Context, uncached *UncachedClient, cacheFile string, fn func(*CachedClient) error) (err error) {
	c, err := loadCache(cacheFile)
	if err != nil {
		return err
	}

	defer func() {
		if saveErr := c.save(); saveErr != nil {
			err = errors.CombineErrors(err, errors.Wrap(saveErr, "saving npm info cache"))
		}
	}()

	return fn(&CachedClient{uncached: uncached, cache: c})
}

// Info returns metadata for a package, avoiding the network when the cache
// can prove it is current.
//
// contentHash is the fingerprint of the content that is about to be (or was
// last) published for the package; pass "" when it is unknown. A cached entry
// is served only when one of its versions carries exactly that hash - the
// locally intended content is then already reflected upstream. An unknown
// hash always forces a fetch, and the result of a hashless fetch is never
// cached, because a future hit against it could not be validated.
func (c *CachedClient) Info(ctx context.Context, name, contentHash string) (*Info, error) {
	if contentHash != "" {
		if cached, ok := c.cache.infos[name]; ok && cached.ContainsHash(contentHash) {
			c.uncached.logger.Debug("npm info cache hit", "package", name)
			return cached, nil
		}
	}

	info, err := c.uncached.Info(ctx, name)
	if err != nil {
		return nil, err
	}
	if info != nil && contentHash != "" {
		c.cache.infos[name] = info
	}
	return info, nil
}

// CachedOnly returns the cache entry for a package without any network
// fallback, or nil if the package has no entry.
func (c *CachedClient) CachedOnly(name string) *Info {
	return c.cache.infos[name]
}

// Downloads proxies to the uncached client; download counts are never cached.
func (c *CachedClient) Downloads(ctx context.Context, name string) (int64, error) {
	return c.uncached.Downloads(ctx, name)
}
