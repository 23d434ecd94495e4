package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
	"github.com/MikeSquared-Agency/Crucible/internal/config"
)

var importDir string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the stored catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace the stored catalog with the CSV tables in a directory",
	RunE:  runCatalogImport,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd)

	catalogImportCmd.Flags().StringVar(&importDir, "dir", "", "directory holding the catalog CSV files [required]")
	catalogImportCmd.MarkFlagRequired("dir")
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

	cat, err := catalog.LoadDir(importDir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.ReplaceCatalog(ctx, cat); err != nil {
		return fmt.Errorf("import catalog: %w", err)
	}
	logger.Info("catalog imported",
		"materials", len(cat.Materials()),
		"additives", len(cat.Additives()),
		"groups", len(cat.Groups()),
		"presets", len(cat.Presets()),
	)
	return nil
}
