package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/app"
	"github.com/libris-ai/libris/internal/config"
	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/tui"
)

// runCLI starts the interactive terminal client.
func runCLI() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateCLI(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	chatID, err := getOrCreateChat(ctx, a.Chats, a.Logger)
	if err != nil {
		return err
	}

	model, err := tui.New(ctx, a.Mux, chatID)
	if err != nil {
		return fmt.Errorf("creating terminal client: %w", err)
	}

	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err = program.Run(); err != nil {
		return fmt.Errorf("terminal client exited: %w", err)
	}
	return nil
}

// getOrCreateChat resumes the chat recorded in the state file, or
// starts a fresh one when there is none or it has been deleted.
func getOrCreateChat(ctx context.Context, store *conversation.Store, logger log.Logger) (uuid.UUID, error) {
	current, err := conversation.LoadCurrentChatID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("loading chat state: %w", err)
	}

	if current != nil {
		if _, err = store.GetChat(ctx, *current); err == nil {
			return *current, nil
		}
		if !errors.Is(err, conversation.ErrChatNotFound) {
			return uuid.Nil, fmt.Errorf("validating current chat: %w", err)
		}
	}

	chat, err := store.CreateChat(ctx, "New chat")
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating chat: %w", err)
	}
	if err := conversation.SaveCurrentChatID(chat.ID); err != nil {
		logger.Warn("saving chat state", "error", err)
	}
	return chat.ID, nil
}
