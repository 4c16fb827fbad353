package commands

import (
	"fmt"
	"strings"

	"pharmadeal/internal/config"
	"pharmadeal/internal/storage"
)

// SetIdentity persists the local user ID used to authenticate the
// socket connection when no explicit ID is supplied.
func SetIdentity(userID string, cfg *config.Config) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	store, err := storage.NewStore(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveIdentity(userID); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	fmt.Printf("Identity saved to %s\n", cfg.StateFile)
	fmt.Printf("User ID: %s\n", userID)
	return nil
}
