package db

import (
	"fmt"

	"github.com/RichardoC/localchat/internal/models"
	"go.uber.org/multierr"
)

// Export collects settings, every conversation and every message log.
func (db *Database) Export() (models.Backup, error) {
	settings, err := db.GetSettings()
	if err != nil {
		return models.Backup{}, fmt.Errorf("failed to load settings: %w", err)
	}
	conversations, err := db.ListConversations()
	if err != nil {
		return models.Backup{}, fmt.Errorf("failed to list conversations: %w", err)
	}

	backup := models.Backup{
		Settings:      &settings,
		Conversations: conversations,
		Messages:      make(map[string][]models.Message, len(conversations)),
	}
	for _, conv := range conversations {
		messages, err := db.GetMessages(conv.ID)
		if err != nil {
			return models.Backup{}, fmt.Errorf("failed to load messages for %s: %w", conv.ID, err)
		}
		backup.Messages[conv.ID] = messages
	}
	return backup, nil
}

// Restore merges a backup into the store. Imported conversations replace
// existing ones with the same id, everything else is kept. Nothing is written
// when the backup fails validation.
func (db *Database) Restore(backup models.Backup) error {
	if err := validateBackup(backup); err != nil {
		return err
	}

	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if backup.Settings != nil {
		if err := saveSettings(tx, *backup.Settings); err != nil {
			return fmt.Errorf("failed to restore settings: %w", err)
		}
	}
	for _, conv := range backup.Conversations {
		if err := saveConversation(tx, conv); err != nil {
			return fmt.Errorf("failed to restore conversation %s: %w", conv.ID, err)
		}
	}
	for id, messages := range backup.Messages {
		if err := replaceMessages(tx, id, messages); err != nil {
			return fmt.Errorf("failed to restore messages for %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func validateBackup(backup models.Backup) error {
	var err error
	if backup.Conversations == nil {
		err = multierr.Append(err, fmt.Errorf("%w: missing conversations", ErrInvalidBackup))
	}
	if backup.Messages == nil {
		err = multierr.Append(err, fmt.Errorf("%w: missing messages", ErrInvalidBackup))
	}
	for i, conv := range backup.Conversations {
		if conv.ID == "" {
			err = multierr.Append(err, fmt.Errorf("%w: conversation %d has no id", ErrInvalidBackup, i))
		}
	}
	for id := range backup.Messages {
		if id == "" {
			err = multierr.Append(err, fmt.Errorf("%w: message log without conversation id", ErrInvalidBackup))
		}
	}
	return err
}
