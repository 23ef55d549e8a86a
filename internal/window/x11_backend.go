package window

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/WinOpacity/internal/logger"
)

// X11Backend implements Source using X11 and the EWMH opacity hint that
// compositors (picom, KWin, Mutter, xfwm4) read
type X11Backend struct {
	conn *xgb.Conn
	root xproto.Window

	atomMu sync.Mutex
	atoms  map[string]xproto.Atom
}

// NewX11Backend creates a new X11 backend
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	return &X11Backend{
		conn:  conn,
		root:  root,
		atoms: make(map[string]xproto.Atom),
	}, nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return BackendX11
}

// ListWindows returns all visible windows using EWMH _NET_CLIENT_LIST with QueryTree fallback
func (b *X11Backend) ListWindows(ctx context.Context) ([]Handle, error) {
	log := logger.WithComponent("x11-backend")

	// Try EWMH _NET_CLIENT_LIST first (preferred method)
	windows, err := b.listWindowsEWMH()
	if err == nil && len(windows) > 0 {
		log.Debug().Int("count", len(windows)).Msg("ListWindows: using EWMH _NET_CLIENT_LIST")
		return windows, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("ListWindows: EWMH failed, falling back to QueryTree")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	windows, err = b.listWindowsQueryTree()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}
	log.Debug().Int("count", len(windows)).Msg("ListWindows: using QueryTree fallback")
	return windows, nil
}

// listWindowsEWMH gets windows from _NET_CLIENT_LIST (EWMH standard)
func (b *X11Backend) listWindowsEWMH() ([]Handle, error) {
	clientListAtom, err := b.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	reply, err := xproto.GetProperty(
		b.conn,
		false,
		b.root,
		clientListAtom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("_NET_CLIENT_LIST is empty")
	}

	// Property is an array of 32-bit window IDs
	ids := make([]xproto.Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		ids = append(ids, xproto.Window(xgb.Get32(reply.Value[i:])))
	}
	return b.describe(ids), nil
}

// listWindowsQueryTree gets windows by querying root window children
func (b *X11Backend) listWindowsQueryTree() ([]Handle, error) {
	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, err
	}
	return b.describe(tree.Children), nil
}

// describe fetches window info, skipping windows without a title or class
// (usually not user windows)
func (b *X11Backend) describe(ids []xproto.Window) []Handle {
	windows := make([]Handle, 0, len(ids))
	for _, id := range ids {
		info := b.getWindowInfo(id)
		if info.Title == "" && info.Class == "" {
			continue
		}
		windows = append(windows, info)
	}
	return windows
}

// SetOpacity writes _NET_WM_WINDOW_OPACITY on the client window and on its
// frame, since reparenting window managers put the frame in the stacking
// order the compositor draws.
func (b *X11Backend) SetOpacity(ctx context.Context, w Handle, opacity float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	atom, err := b.getAtom("_NET_WM_WINDOW_OPACITY")
	if err != nil {
		return fmt.Errorf("failed to get _NET_WM_WINDOW_OPACITY atom: %w", err)
	}

	buf := make([]byte, 4)
	xgb.Put32(buf, opacityToCardinal(opacity))

	win := xproto.Window(w.ID)
	if err := b.changeCardinal(win, atom, buf); err != nil {
		return fmt.Errorf("failed to set opacity on window %#x: %w", w.ID, err)
	}

	if frame, ok := b.frameOf(win); ok {
		if err := b.changeCardinal(frame, atom, buf); err != nil {
			logger.WithComponent("x11-backend").Debug().
				Err(err).
				Uint32("frame", uint32(frame)).
				Msg("Failed to set opacity on frame window")
		}
	}
	return nil
}

func (b *X11Backend) changeCardinal(win xproto.Window, atom xproto.Atom, buf []byte) error {
	return xproto.ChangePropertyChecked(
		b.conn,
		xproto.PropModeReplace,
		win,
		atom,
		xproto.AtomCardinal,
		32,
		1,
		buf,
	).Check()
}

// frameOf returns the top-level ancestor of win below the root, if it is
// not win itself
func (b *X11Backend) frameOf(win xproto.Window) (xproto.Window, bool) {
	current := win
	for {
		tree, err := xproto.QueryTree(b.conn, current).Reply()
		if err != nil || tree.Parent == 0 {
			return 0, false
		}
		if tree.Parent == b.root {
			return current, current != win
		}
		current = tree.Parent
	}
}

// opacityToCardinal scales 0.0-1.0 to the 32-bit range of the EWMH hint
func opacityToCardinal(opacity float64) uint32 {
	return uint32(math.Round(ClampOpacity(opacity) * math.MaxUint32))
}

// getWindowInfo retrieves information about a window
func (b *X11Backend) getWindowInfo(win xproto.Window) Handle {
	info := Handle{ID: uint32(win)}

	// Get window title
	if titleAtom, err := b.getAtom("_NET_WM_NAME"); err == nil {
		if title, err := b.getProperty(win, titleAtom); err == nil {
			info.Title = title
		}
	}

	// Try alternative title property
	if info.Title == "" {
		if title, err := b.getProperty(win, xproto.AtomWmName); err == nil {
			info.Title = title
		}
	}

	// WM_CLASS format is: instance\0class\0 (two null-terminated strings)
	if classRaw, err := b.getProperty(win, xproto.AtomWmClass); err == nil {
		parts := strings.Split(classRaw, "\x00")
		if len(parts) >= 2 && parts[1] != "" {
			info.Class = parts[1]
		} else if len(parts) >= 1 && parts[0] != "" {
			info.Class = parts[0]
		}
	}

	// Get PID
	if pidAtom, err := b.getAtom("_NET_WM_PID"); err == nil {
		pidReply, err := xproto.GetProperty(
			b.conn,
			false,
			win,
			pidAtom,
			xproto.AtomCardinal,
			0,
			1,
		).Reply()
		if err == nil && len(pidReply.Value) >= 4 {
			info.PID = int(xgb.Get32(pidReply.Value))
		}
	}

	return info
}

// getAtom gets an atom ID by name, caching the result for the connection
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	b.atomMu.Lock()
	defer b.atomMu.Unlock()

	if atom, ok := b.atoms[name]; ok {
		return atom, nil
	}
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	b.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// getProperty gets a property value as a string
func (b *X11Backend) getProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		b.conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}

	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}

	return string(reply.Value), nil
}
