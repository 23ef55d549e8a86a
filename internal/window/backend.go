package window

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Handle identifies an on-screen window for the duration of one cycle
type Handle struct {
	ID    uint32 `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Class string `json:"class,omitempty" yaml:"class,omitempty"`
	PID   int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	// Ref is a backend specific reference, e.g. the KWin internal UUID
	Ref string `json:"-" yaml:"-"`
}

// Source discovers windows and changes their opacity (X11, KWin, etc.)
type Source interface {
	// ListWindows returns all visible application windows
	ListWindows(ctx context.Context) ([]Handle, error)

	// SetOpacity sets a window's opacity, from 0.0 (invisible) to 1.0
	SetOpacity(ctx context.Context, w Handle, opacity float64) error

	// Close closes the connection to the display server
	Close() error

	// Name returns the backend name (e.g., "x11", "kwin")
	Name() string
}

// Backend names accepted by NewSource
const (
	BackendAuto = "auto"
	BackendX11  = "x11"
	BackendKWin = "kwin"
)

// NewSource connects to the named backend. "auto" picks KWin on a KDE
// Wayland session and X11 otherwise.
func NewSource(name string) (Source, error) {
	switch strings.ToLower(name) {
	case "", BackendAuto:
		return NewSource(DetectBackend(os.Getenv))
	case BackendX11:
		return NewX11Backend()
	case BackendKWin:
		return NewKWinBackend()
	default:
		return nil, fmt.Errorf("unknown window backend: %s (use auto, x11 or kwin)", name)
	}
}

// DetectBackend picks a backend name from the session environment
func DetectBackend(getenv func(string) string) string {
	wayland := getenv("WAYLAND_DISPLAY") != "" ||
		strings.EqualFold(getenv("XDG_SESSION_TYPE"), "wayland")
	kde := strings.Contains(strings.ToUpper(getenv("XDG_CURRENT_DESKTOP")), "KDE") ||
		getenv("KDE_FULL_SESSION") != ""
	if wayland && kde {
		return BackendKWin
	}
	return BackendX11
}

// ClampOpacity limits opacity to the range a backend accepts
func ClampOpacity(opacity float64) float64 {
	switch {
	case opacity != opacity: // NaN
		return 1
	case opacity < 0:
		return 0
	case opacity > 1:
		return 1
	default:
		return opacity
	}
}
