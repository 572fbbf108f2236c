package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/reelpool/internal/catalog"
	"github.com/jmylchreest/reelpool/internal/observability"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Catalog management commands",
	Long:  `Commands for managing the feed catalog that backs playback sessions.`,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <manifest>",
	Short: "Import a feed manifest",
	Long: `Import threads and items from a YAML manifest into the catalog.

The manifest may be compressed with gzip, bzip2 or xz (detected from the
file header) or brotli (detected from a .br suffix). Threads are matched by
slug; items removed from a thread are deleted. With --prune, threads the
manifest does not name are deleted too.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog counts",
	RunE:  runCatalogStats,
}

var importPrune bool

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogStatsCmd)

	catalogImportCmd.Flags().BoolVar(&importPrune, "prune", false, "delete threads not present in the manifest")
}

func runCatalogImport(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := observability.WithComponent(slog.Default(), "catalog")

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	manifest, err := catalog.ParseManifest(f, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	store, err := catalog.Open(ctx, cfg.Database, cfg.Storage.CacheDir, logger)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer store.Close()

	done := observability.TimedOperationWithError(ctx, logger, "catalog_import", &err)
	defer done()

	result, err := store.Import(ctx, manifest, catalog.ImportOptions{Prune: importPrune})
	if err != nil {
		return fmt.Errorf("importing manifest: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"threads: %d created, %d updated, %d pruned; items: %d imported, %d removed\n",
		result.ThreadsCreated, result.ThreadsUpdated, result.ThreadsPruned, result.Items, result.ItemsRemoved)
	return nil
}

func runCatalogStats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := catalog.Open(ctx, cfg.Database, cfg.Storage.CacheDir, observability.WithComponent(slog.Default(), "catalog"))
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer store.Close()

	threads, items, err := store.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "threads: %d\nitems: %d\n", threads, items)
	return nil
}
