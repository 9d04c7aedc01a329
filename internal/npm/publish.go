package npm

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/devoto13/types-publisher/fetch"
)

// PublishClient performs the mutating registry operations. The token is held
// in memory only and injected as a bearer header by the fetcher; it is never
// logged or persisted.
type PublishClient struct {
	registryURL string
	fetcher     fetch.Interface
	logger      *log.Logger
}

// NewPublishClient creates a client authenticated with the given token.
// An empty token is a construction error; no write call is attempted without one.
func NewPublishClient(registryURL, token string, logger *log.Logger, opts ...fetch.Option) (*PublishClient, error) {
	if token == "" {
		return nil, errors.New("npm token is required")
	}
	if registryURL == "" {
		registryURL = DefaultRegistryURL
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	fopts := append([]fetch.Option{
		fetch.WithAuthFunc(func(string) (string, string) {
			return "Authorization", "Bearer " + token
		}),
	}, opts...)

	return &PublishClient{
		registryURL: strings.TrimSuffix(registryURL, "/"),
		fetcher:     fetch.NewFetcher(fopts...),
		logger:      logger,
	}, nil
}

// Publish uploads the contents of dir as a new package version. manifest is
// the package.json content; dir must contain a README.md, which becomes the
// published readme. With dryRun set the call succeeds without contacting the
// registry.
func (c *PublishClient) Publish(ctx context.Context, dir string, manifest []byte, dryRun bool) error {
	var meta map[string]any
	if err := json.Unmarshal(manifest, &meta); err != nil {
		return errors.Wrap(err, "parsing package manifest")
	}
	name, _ := meta["name"].(string)
	version, _ := meta["version"].(string)
	if name == "" || version == "" {
		return errors.New("package manifest must carry name and version")
	}

	readme, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		return errors.Wrapf(err, "reading readme for %s", name)
	}
	meta["readme"] = string(readme)

	if dryRun {
		c.logger.Info("dry run, skipping publish", "package", name, "version", version)
		return nil
	}

	tarball, err := packDirectory(dir)
	if err != nil {
		return err
	}
	shasum := sha1.Sum(tarball)

	tarballName := fmt.Sprintf("%s-%s.tgz", flattenName(name), version)
	meta["_id"] = name + "@" + version
	meta["dist"] = map[string]string{
		"shasum":  hex.EncodeToString(shasum[:]),
		"tarball": fmt.Sprintf("%s/%s/-/%s", c.registryURL, name, tarballName),
	}

	doc := map[string]any{
		"_id":       name,
		"name":      name,
		"dist-tags": map[string]string{"latest": version},
		"versions":  map[string]any{version: meta},
		"readme":    string(readme),
		"_attachments": map[string]any{
			tarballName: map[string]any{
				"content_type": "application/octet-stream",
				"data":         base64.StdEncoding.EncodeToString(tarball),
				"length":       len(tarball),
			},
		},
	}

	u := fmt.Sprintf("%s/%s", c.registryURL, url.PathEscape(name))
	if err := c.fetcher.PutJSON(ctx, u, doc, nil); err != nil {
		return errors.Wrapf(err, "publishing %s@%s", name, version)
	}
	c.logger.Info("published", "package", name, "version", version)
	return nil
}

// Tag points a dist-tag at a specific version of a package.
func (c *PublishClient) Tag(ctx context.Context, name, version, tag string) error {
	u := fmt.Sprintf("%s/-/package/%s/dist-tags/%s", c.registryURL, url.PathEscape(name), tag)
	if err := c.fetcher.PutJSON(ctx, u, version, nil); err != nil {
		return errors.Wrapf(err, "tagging %s@%s as %s", name, version, tag)
	}
	c.logger.Info("tagged", "package", name, "version", version, "tag", tag)
	return nil
}

// Deprecate marks one version of a package as deprecated with a message.
func (c *PublishClient) Deprecate(ctx context.Context, name, version, message string) error {
	// The registry routes on URL path segments, so the slash in a scoped
	// package name has to be escaped in the document URL.
	u := fmt.Sprintf("%s/%s", c.registryURL, strings.ReplaceAll(name, "/", "%2f"))

	var doc map[string]any
	if err := c.fetcher.GetJSON(ctx, u, &doc); err != nil {
		return errors.Wrapf(err, "fetching document for %s", name)
	}
	versions, ok := doc["versions"].(map[string]any)
	if !ok {
		return errors.Newf("document for %s has no versions", name)
	}
	v, ok := versions[version].(map[string]any)
	if !ok {
		return errors.Newf("%s has no version %s", name, version)
	}
	v["deprecated"] = message

	if err := c.fetcher.PutJSON(ctx, u, doc, nil); err != nil {
		return errors.Wrapf(err, "deprecating %s@%s", name, version)
	}
	c.logger.Info("deprecated", "package", name, "version", version)
	return nil
}

// flattenName converts a package name to its tarball base name;
// @scope/name becomes scope-name.
func flattenName(name string) string {
	name = strings.TrimPrefix(name, "@")
	return strings.ReplaceAll(name, "/", "-")
}
