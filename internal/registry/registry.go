// Package registry implements the publish workflow for the types-registry
// meta package: a package whose index lists every published @types package.
package registry

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/devoto13/types-publisher/internal/config"
	"github.com/devoto13/types-publisher/internal/npm"
)

// PackageName is the meta package this workflow publishes.
const PackageName = "types-registry"

const description = "A registry of TypeScript declaration file packages published within the @types scope."

const readme = `# types-registry

This package contains a listing of all packages published to the @types scope.
It is generated and published automatically; its index maps every known
package name to 1.
`

// Publish runs the two-state pipeline: with no packages added since the last
// successful publish it terminates without contacting the registry, otherwise
// it regenerates the meta package from the full known-package set, bumps the
// patch number past the last published version, and publishes. Any generation
// or publish failure aborts the run.
func Publish(ctx context.Context, client *npm.UncachedClient, pub *npm.PublishClient, cfg *config.Config, dryRun bool, logger *log.Logger) error {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	changed, err := readPackageList(cfg.ChangedPackagesFile)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		logger.Info("no new packages to publish")
		return nil
	}

	all, err := readPackageList(cfg.AllPackagesFile)
	if err != nil {
		return err
	}

	index, err := generateIndex(all)
	if err != nil {
		return err
	}
	contentHash := hashContent(index)

	var next *semver.Version
	err = npm.WithCache(ctx, client, cfg.CacheFile, func(c *npm.CachedClient) error {
		info, err := c.Info(ctx, PackageName, contentHash)
		if err != nil {
			return err
		}
		if info == nil {
			// The meta package predates every run of this tool; its absence
			// means a misconfigured registry or an outage, and bootstrapping a
			// fresh 0.0.x would reset consumers' version floors.
			return errors.Newf("package %s not found in registry", PackageName)
		}

		latest := info.DistTags["latest"]
		version, err := semver.NewVersion(latest)
		if err != nil {
			return errors.Wrapf(err, "parsing latest version %q of %s", latest, PackageName)
		}
		bumped := version.IncPatch()
		next = &bumped
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("publishing", "package", PackageName, "version", next.String(), "packages", len(all), "added", len(changed))

	manifest, err := generateManifest(next.String(), contentHash)
	if err != nil {
		return err
	}
	if err := writePackage(cfg.OutputDir, manifest, index); err != nil {
		return err
	}

	if err := pub.Publish(ctx, cfg.OutputDir, manifest, dryRun); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	return pub.Tag(ctx, PackageName, next.String(), "latest")
}

// DeprecateNotNeeded deprecates a stub @types package whose library now ships
// its own type definitions.
func DeprecateNotNeeded(ctx context.Context, pub *npm.PublishClient, name, version, libraryName, sourceRepoURL string) error {
	message := fmt.Sprintf(
		"This is a stub types definition for %s (%s). %s provides its own type definitions, so you don't need %s installed!",
		libraryName, sourceRepoURL, libraryName, name)
	return pub.Deprecate(ctx, name, version, message)
}

// generateIndex renders the index.json content: every known package name
// mapped to 1, sorted, so identical inputs yield identical bytes.
func generateIndex(all []string) ([]byte, error) {
	entries := make(map[string]int, len(all))
	for _, name := range all {
		entries[name] = 1
	}
	index, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding index")
	}
	return append(index, '\n'), nil
}

func hashContent(index []byte) string {
	sum := sha256.Sum256(index)
	return hex.EncodeToString(sum[:])
}

type manifest struct {
	Name                      string `json:"name"`
	Version                   string `json:"version"`
	Description               string `json:"description"`
	License                   string `json:"license"`
	TypesPublisherContentHash string `json:"typesPublisherContentHash"`
}

func generateManifest(version, contentHash string) ([]byte, error) {
	data, err := json.MarshalIndent(manifest{
		Name:                      PackageName,
		Version:                   version,
		Description:               description,
		License:                   "MIT",
		TypesPublisherContentHash: contentHash,
	}, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding manifest")
	}
	return append(data, '\n'), nil
}

func writePackage(dir string, manifestData, index []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %s", dir)
	}
	files := map[string][]byte{
		"package.json": manifestData,
		"index.json":   index,
		"README.md":    []byte(readme),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return errors.Wrapf(err, "writing %s", name)
		}
	}
	return nil
}

// readPackageList reads one package name per line, skipping blanks and
// comments.
func readPackageList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading package list %s", path)
	}
	defer func() { _ = f.Close() }()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading package list %s", path)
	}
	return names, nil
}
