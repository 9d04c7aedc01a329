// Package config loads the publisher's TOML settings file.
package config

import (
	"net/url"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/devoto13/types-publisher/internal/npm"
)

// Config holds the settings for a publisher run.
type Config struct {
	// RegistryURL is the npm registry base for reads and writes.
	RegistryURL string `toml:"registry_url"`

	// APIURL is the base of the download-statistics API.
	APIURL string `toml:"api_url"`

	// CacheFile is where the npm metadata cache persists between runs.
	CacheFile string `toml:"cache_file"`

	// OutputDir receives the generated meta-package before publishing.
	OutputDir string `toml:"output_dir"`

	// ChangedPackagesFile lists packages added since the last successful
	// publish, one name per line.
	ChangedPackagesFile string `toml:"changed_packages_file"`

	// AllPackagesFile lists every known package, one name per line.
	AllPackagesFile string `toml:"all_packages_file"`
}

// Default returns the configuration used when no settings file is given.
func Default() *Config {
	return &Config{
		RegistryURL:         npm.DefaultRegistryURL,
		APIURL:              npm.DefaultAPIURL,
		CacheFile:           "cache/npm-info.json",
		OutputDir:           "output/types-registry",
		ChangedPackagesFile: "data/changed-packages.txt",
		AllPackagesFile:     "data/all-packages.txt",
	}
}

// Load reads a TOML settings file, fills unset fields with defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	config := Default()
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, errors.Wrapf(err, "loading config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("unknown config key: %s", undecoded[0].String())
	}
	if err := config.Check(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return config, nil
}

// Check validates the configuration.
func (c *Config) Check() error {
	for _, endpoint := range []struct {
		key   string
		value string
	}{
		{"registry_url", c.RegistryURL},
		{"api_url", c.APIURL},
	} {
		parsed, err := url.Parse(endpoint.value)
		if err != nil {
			return errors.Wrapf(err, "parsing %s", endpoint.key)
		}
		switch parsed.Scheme {
		case "http", "https":
		default:
			return errors.Newf("%s: unsupported scheme %q", endpoint.key, parsed.Scheme)
		}
	}

	if c.CacheFile == "" {
		return errors.New("cache_file is not set")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is not set")
	}
	if c.ChangedPackagesFile == "" {
		return errors.New("changed_packages_file is not set")
	}
	if c.AllPackagesFile == "" {
		return errors.New("all_packages_file is not set")
	}
	return nil
}
