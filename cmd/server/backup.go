package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write all conversations and settings to a JSON backup",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a JSON backup into the database",
	Long:  `Conversations in the backup replace stored conversations with the same id. Everything else is kept.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	path := "chatlist.json"
	if len(args) == 1 {
		path = args[0]
	}

	database, logger, err := openDatabase()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer func() { err = multierr.Append(err, database.Close()) }()

	backup, err := database.Export()
	if err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Info("exported backup",
		zap.String("file", path),
		zap.Int("conversations", len(backup.Conversations)))
	return nil
}

func runImport(cmd *cobra.Command, args []string) (err error) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var backup models.Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return fmt.Errorf("%w: %w", db.ErrInvalidBackup, err)
	}

	database, logger, err := openDatabase()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer func() { err = multierr.Append(err, database.Close()) }()

	if err := database.Restore(backup); err != nil {
		return fmt.Errorf("failed to import %s: %w", args[0], err)
	}
	logger.Info("imported backup",
		zap.String("file", args[0]),
		zap.Int("conversations", len(backup.Conversations)))
	return nil
}

func openDatabase() (*db.Database, *zap.Logger, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}
	return database, logger, nil
}
