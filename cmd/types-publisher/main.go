// Package main implements the types-publisher command-line tool.
package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/devoto13/types-publisher/fetch"
	"github.com/devoto13/types-publisher/internal/config"
	"github.com/devoto13/types-publisher/internal/npm"
	"github.com/devoto13/types-publisher/internal/registry"
	"github.com/devoto13/types-publisher/internal/secrets"
)

const defaultConfigPath = "types-publisher.toml"

var (
	// Build information - set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath  string
	verbose     bool
	dryRun      bool
	contentHash string
	message     string
)

var rootCmd = &cobra.Command{
	Use:   "types-publisher",
	Short: "Publish the types-registry meta package and inspect npm metadata",
	Long: `types-publisher maintains the types-registry meta package on npm: it decides
whether anything changed since the last publish, regenerates the package index,
and publishes it. It also exposes the underlying npm metadata operations for
inspection and maintenance.`,
	SilenceUsage: true,
}

var publishRegistryCmd = &cobra.Command{
	Use:   "publish-registry",
	Short: "Regenerate and publish the types-registry meta package",
	Long: `Regenerates the types-registry package from the full set of known packages
and publishes it with the next patch number, unless no packages were added
since the last successful publish.

Usage:
  # Publish using the default settings file
  types-publisher publish-registry

  # Rehearse without contacting the registry's write endpoints
  types-publisher publish-registry --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger()

		token, err := secrets.NpmToken()
		if err != nil {
			return err
		}
		pub, err := npm.NewPublishClient(cfg.RegistryURL, token, logger)
		if err != nil {
			return err
		}

		client := newUncachedClient(cfg, logger)
		return registry.Publish(cmd.Context(), client, pub, cfg, dryRun, logger)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [package]",
	Short: "Print cached or fetched metadata for a package",
	Long: `Prints the tracked metadata for a package as JSON. With --hash, the cache
may satisfy the lookup without a network call; without it the registry is
always consulted and the cache is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newUncachedClient(cfg, newLogger())

		return npm.WithCache(cmd.Context(), client, cfg.CacheFile, func(c *npm.CachedClient) error {
			info, err := c.Info(cmd.Context(), args[0], contentHash)
			if err != nil {
				return err
			}
			if info == nil {
				return errors.Newf("package %s not found", args[0])
			}
			encoded, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		})
	},
}

var downloadsCmd = &cobra.Command{
	Use:   "downloads [package...]",
	Short: "Print last-month download counts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newUncachedClient(cfg, newLogger())

		for _, name := range args {
			count, err := client.Downloads(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d\n", name, count)
		}
		return nil
	},
}

var deprecateCmd = &cobra.Command{
	Use:   "deprecate [package] [version]",
	Short: "Deprecate one version of a package",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := secrets.NpmToken()
		if err != nil {
			return err
		}
		pub, err := npm.NewPublishClient(cfg.RegistryURL, token, newLogger())
		if err != nil {
			return err
		}
		return pub.Deprecate(cmd.Context(), args[0], args[1], message)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("types-publisher %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

func newLogger() *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

func loadConfig() (*config.Config, error) {
	if configPath == defaultConfigPath {
		// The default settings file is optional
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(configPath)
}

func newUncachedClient(cfg *config.Config, logger *log.Logger) *npm.UncachedClient {
	fetcher := fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(
		fetch.WithUserAgent("types-publisher/" + version),
	))
	return npm.NewUncachedClient(fetcher,
		npm.WithBaseURLs(cfg.RegistryURL, cfg.APIURL),
		npm.WithLogger(logger),
	)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	publishRegistryCmd.Flags().BoolVar(&dryRun, "dry-run", false, "rehearse without publishing")
	infoCmd.Flags().StringVar(&contentHash, "hash", "", "content hash to validate the cache entry against")
	deprecateCmd.Flags().StringVarP(&message, "message", "m", "", "deprecation message")
	_ = deprecateCmd.MarkFlagRequired("message")

	rootCmd.AddCommand(publishRegistryCmd, infoCmd, downloadsCmd, deprecateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
