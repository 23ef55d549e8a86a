// Package control holds the short-lived commands that act on a running
// poller through the config file: kill and edit.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/bryanchriswhite/WinOpacity/internal/rules"
)

// RequestKill sets the kill flag in the config file. It does not check for
// a running poller and does not wait for one to stop; the next cycle of a
// running poller (or the first cycle of the next one) consumes the flag.
func RequestKill(store *config.Store) error {
	doc, err := store.Load()
	if err != nil {
		return err
	}

	doc.SetKill()
	if err := store.Save(doc.Raw, doc); err != nil {
		return fmt.Errorf("failed to write kill flag: %w", err)
	}

	logger.WithComponent("control").Info().
		Str("path", store.Path()).
		Msg("Kill requested")
	return nil
}

// RequestEdit opens the config file in the editor identified by editorID.
// When the editor runs in the foreground and has exited, the edited file is
// checked so that mistakes are reported right away instead of in the
// poller's log.
func RequestEdit(ctx context.Context, editor Editor, store *config.Store, editorID string) error {
	if editorID == "" {
		editorID = DefaultEditor
	}

	waited, err := editor.Open(ctx, store.Path(), editorID)
	if err != nil {
		return err
	}
	if !waited {
		return nil
	}
	return Validate(store)
}

// Validate loads the config and compiles its rules. It returns the read
// error, or every invalid pattern joined into one error.
func Validate(store *config.Store) error {
	doc, err := store.Load()
	if err != nil {
		return err
	}
	if _, errs := rules.Compile(doc.Config.Windows); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
