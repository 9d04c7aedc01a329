/*
Package typespublisher is a publishing pipeline for the types-registry meta
package on npm.

The tool discovers whether any packages were added since the last successful
publish, queries the npm registry for metadata through a persistent
content-hash-validated cache, regenerates the registry index, and performs the
publish, tag, and deprecate operations against the registry.

The main packages are:

	github.com/devoto13/types-publisher/fetch               - retrying JSON fetcher with DNS caching and circuit breaking
	github.com/devoto13/types-publisher/internal/npm        - npm metadata model, cached/uncached read clients, publish client
	github.com/devoto13/types-publisher/internal/registry   - the publish-registry workflow
	github.com/devoto13/types-publisher/cmd/types-publisher - command-line interface
*/
package typespublisher
