package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// The terminal client remembers the active chat between runs in a
// small state file under the config directory.
const (
	stateDirName  = ".libris"
	stateFileName = "current_chat"
)

func statePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}

	dir := filepath.Join(home, stateDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}

	return filepath.Join(dir, stateFileName), nil
}

// LoadCurrentChatID reads the chat recorded by a previous run. A
// missing or empty state file means no current chat and returns
// (nil, nil).
func LoadCurrentChatID() (*uuid.UUID, error) {
	path, err := statePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chat state file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}

	id, err := uuid.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id in state file: %w", err)
	}

	return &id, nil
}

// SaveCurrentChatID records id as the active chat for future runs.
func SaveCurrentChatID(id uuid.UUID) error {
	path, err := statePath()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing chat state file: %w", err)
	}

	return nil
}
