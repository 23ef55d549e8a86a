package window

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/godbus/dbus/v5"
)

// KWinBackend implements Source on KDE Plasma (Wayland or X11) through
// KWin's D-Bus interfaces. Windows are enumerated with the KRunner
// WindowsRunner plugin; opacity is set by a short KWin script.
type KWinBackend struct {
	conn *dbus.Conn
}

// KWin D-Bus constants
const (
	kwinService         = "org.kde.KWin"
	windowsRunnerPath   = "/WindowsRunner"
	krunnerInterface    = "org.kde.krunner1"
	scriptingPath       = "/Scripting"
	scriptingInterface  = "org.kde.kwin.Scripting"
	scriptSettleTimeout = 50 * time.Millisecond
)

// NewKWinBackend creates a new KWin D-Bus backend
func NewKWinBackend() (*KWinBackend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Check if KWin service is available
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	kwinFound := false
	for _, name := range names {
		if name == kwinService {
			kwinFound = true
			break
		}
	}
	if !kwinFound {
		conn.Close()
		return nil, fmt.Errorf("KWin service not found on D-Bus")
	}

	logger.WithComponent("kwin-backend").Info().Msg("Connected to KWin D-Bus service")
	return &KWinBackend{conn: conn}, nil
}

// Close closes the D-Bus connection
func (b *KWinBackend) Close() error {
	return b.conn.Close()
}

// Name returns the backend name
func (b *KWinBackend) Name() string {
	return BackendKWin
}

// ListWindows uses the KRunner WindowsRunner plugin to enumerate windows
func (b *KWinBackend) ListWindows(ctx context.Context) ([]Handle, error) {
	obj := b.conn.Object(kwinService, windowsRunnerPath)

	// Match returns a(sssida{sv}); an empty query returns all windows
	var rawMatches [][]interface{}
	if err := obj.CallWithContext(ctx, krunnerInterface+".Match", 0, "").Store(&rawMatches); err != nil {
		return nil, fmt.Errorf("failed to call Match: %w", err)
	}

	windows := make([]Handle, 0, len(rawMatches))
	for _, rawMatch := range rawMatches {
		// 0: id, 1: text, 2: iconName, 3: type, 4: relevance, 5: properties
		if len(rawMatch) < 6 {
			continue
		}
		rawID, ok := rawMatch[0].(string)
		if !ok {
			continue
		}
		text, _ := rawMatch[1].(string)
		iconName, _ := rawMatch[2].(string)

		uuid := kwinUUIDFromRunnerID(rawID)
		if uuid == "" || (text == "" && iconName == "") {
			continue
		}

		windows = append(windows, Handle{
			ID:    hashStringToUint32(uuid),
			Title: text,
			Class: iconName,
			Ref:   uuid,
		})
	}

	logger.WithComponent("kwin-backend").Debug().
		Int("count", len(windows)).
		Msg("ListWindows: using WindowsRunner")
	return windows, nil
}

// SetOpacity loads a one-shot KWin script that sets the opacity of the
// window with the handle's internal ID
func (b *KWinBackend) SetOpacity(ctx context.Context, w Handle, opacity float64) error {
	if w.Ref == "" {
		return fmt.Errorf("window %q has no KWin id", w.Title)
	}

	f, err := os.CreateTemp("", "winopacity_*.js")
	if err != nil {
		return fmt.Errorf("failed to create KWin script: %w", err)
	}
	scriptPath := f.Name()
	defer os.Remove(scriptPath)

	if _, err := f.WriteString(kwinOpacityScript(w.Ref, opacity)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write KWin script: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write KWin script: %w", err)
	}

	scriptName := fmt.Sprintf("winopacity_%d", time.Now().UnixNano())
	scripting := b.conn.Object(kwinService, scriptingPath)

	if call := scripting.CallWithContext(ctx, scriptingInterface+".loadScript", 0, scriptPath, scriptName); call.Err != nil {
		return fmt.Errorf("failed to load KWin script: %w", call.Err)
	}
	defer scripting.Call(scriptingInterface+".unloadScript", 0, scriptName)

	if call := scripting.CallWithContext(ctx, scriptingInterface+".start", 0); call.Err != nil {
		return fmt.Errorf("failed to start KWin script: %w", call.Err)
	}

	// Give the script time to run before it is unloaded
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(scriptSettleTimeout):
	}
	return nil
}

// kwinOpacityScript returns a KWin script setting the opacity of the window
// whose internalId is uuid. Plasma 6 uses windowList, Plasma 5 clientList.
func kwinOpacityScript(uuid string, opacity float64) string {
	return fmt.Sprintf(`const target = %s;
const list = workspace.windowList ? workspace.windowList() : workspace.clientList();
for (let i = 0; i < list.length; i++) {
    const w = list[i];
    if (String(w.internalId) === target) {
        w.opacity = %s;
    }
}
`, strconv.Quote(uuid), strconv.FormatFloat(ClampOpacity(opacity), 'f', -1, 64))
}

// kwinUUIDFromRunnerID extracts "{uuid}" from a runner match id such as
// "0_{dc80ff04-3245-4d9b-b9a8-1582640d39e1}"
func kwinUUIDFromRunnerID(rawID string) string {
	start := strings.Index(rawID, "{")
	end := strings.LastIndex(rawID, "}")
	if start < 0 || end <= start {
		return ""
	}
	return rawID[start : end+1]
}

// hashStringToUint32 creates a simple hash of a string to uint32
// Used to convert KWin's UUID-style window IDs to numeric IDs
func hashStringToUint32(s string) uint32 {
	var hash uint32 = 5381
	for i := 0; i < len(s); i++ {
		hash = ((hash << 5) + hash) + uint32(s[i])
	}
	return hash
}
