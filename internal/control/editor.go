package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/bryanchriswhite/WinOpacity/internal/logger"
)

// DefaultEditor is used when no editor is named
const DefaultEditor = "code"

// EnvEditor names the editor from $VISUAL or $EDITOR
const EnvEditor = "env"

var (
	// ErrUnknownEditor is returned for an editor id with no launch recipe
	ErrUnknownEditor = errors.New("unknown editor")
	// ErrLaunchFailure is returned when the editor could not be started
	ErrLaunchFailure = errors.New("failed to launch editor")
)

// Editor opens a file for editing
type Editor interface {
	// Open opens path with the editor named editorID. waited reports that
	// the call blocked until the editor exited.
	Open(ctx context.Context, path, editorID string) (waited bool, err error)
}

// launchRecipe is how to start one editor. Terminal editors take over the
// current terminal and are waited for; GUI editors are started and left
// running.
type launchRecipe struct {
	command  string
	args     []string
	terminal bool
}

var editors = map[string]launchRecipe{
	"code":          {command: "code"},
	"vscode":        {command: "code"},
	"code-insiders": {command: "code-insiders"},
	"codium":        {command: "codium"},
	"subl":          {command: "subl"},
	"sublime":       {command: "subl"},
	"atom":          {command: "atom"},
	"idea":          {command: "idea"},
	"webstorm":      {command: "webstorm"},
	"gedit":         {command: "gedit"},
	"kate":          {command: "kate"},
	"emacs":         {command: "emacs"},
	"vim":           {command: "vim", terminal: true},
	"vi":            {command: "vi", terminal: true},
	"nvim":          {command: "nvim", terminal: true},
	"nano":          {command: "nano", terminal: true},
	"micro":         {command: "micro", terminal: true},
}

// Editors returns the known editor ids, sorted
func Editors() []string {
	ids := make([]string, 0, len(editors)+1)
	for id := range editors {
		ids = append(ids, id)
	}
	ids = append(ids, EnvEditor)
	sort.Strings(ids)
	return ids
}

// Launcher starts editors as child processes
type Launcher struct {
	Getenv   func(string) string
	LookPath func(string) (string, error)
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer

	// run starts cmd, waiting for it to exit when wait is set
	run func(cmd *exec.Cmd, wait bool) error
}

// NewLauncher creates a launcher wired to the current process
func NewLauncher() *Launcher {
	return &Launcher{
		Getenv:   os.Getenv,
		LookPath: exec.LookPath,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		run:      runCommand,
	}
}

// Open implements Editor
func (l *Launcher) Open(ctx context.Context, path, editorID string) (bool, error) {
	recipe, err := l.resolve(editorID)
	if err != nil {
		return false, err
	}

	bin, err := l.LookPath(recipe.command)
	if err != nil {
		return false, fmt.Errorf("%w %s: %v", ErrLaunchFailure, editorID, err)
	}

	args := append(append([]string{}, recipe.args...), path)
	// GUI editors outlive this process, so only terminal editors are tied to ctx
	cmd := exec.Command(bin, args...)
	if recipe.terminal {
		cmd = exec.CommandContext(ctx, bin, args...)
		cmd.Stdin = l.Stdin
		cmd.Stdout = l.Stdout
		cmd.Stderr = l.Stderr
	}

	logger.WithComponent("editor").Debug().
		Str("editor", editorID).
		Str("command", bin).
		Strs("args", args).
		Bool("wait", recipe.terminal).
		Msg("Opening config")

	if err := l.run(cmd, recipe.terminal); err != nil {
		return false, fmt.Errorf("%w %s: %v", ErrLaunchFailure, editorID, err)
	}
	return recipe.terminal, nil
}

func (l *Launcher) resolve(editorID string) (launchRecipe, error) {
	id := strings.ToLower(strings.TrimSpace(editorID))
	if id == EnvEditor {
		value := l.Getenv("VISUAL")
		if value == "" {
			value = l.Getenv("EDITOR")
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return launchRecipe{}, fmt.Errorf("%w: %s (neither $VISUAL nor $EDITOR is set)", ErrUnknownEditor, editorID)
		}
		return launchRecipe{command: fields[0], args: fields[1:], terminal: true}, nil
	}

	recipe, ok := editors[id]
	if !ok {
		return launchRecipe{}, fmt.Errorf("%w: %s (known editors: %s)", ErrUnknownEditor, editorID, strings.Join(Editors(), ", "))
	}
	return recipe, nil
}

func runCommand(cmd *exec.Cmd, wait bool) error {
	if wait {
		return cmd.Run()
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
