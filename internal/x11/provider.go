// Package x11 reads window geometry from an EWMH window manager and makes the overlay
// window transparent to input.
package x11

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/shape"
	"github.com/jezek/xgb/xproto"

	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
)

// allDesktops is the _NET_WM_DESKTOP value of a window shown on every workspace.
const allDesktops = 0xFFFFFFFF

type atoms struct {
	clientList    xproto.Atom
	wmDesktop     xproto.Atom
	curDesktop    xproto.Atom
	wmState       xproto.Atom
	stateHidden   xproto.Atom
	stateSticky   xproto.Atom
	frameExtents  xproto.Atom
	compositorSel xproto.Atom
}

// Provider implements sim.Provider over an X connection. The connection is safe for
// concurrent use, so the provider may be polled from its own goroutine.
type Provider struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms atoms
	shape bool
}

// Open connects to display ("" means $DISPLAY).
func Open(display string) (*Provider, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("connect to X display %q: %w", display, err)
	}
	setup := xproto.Setup(conn)
	if len(setup.Roots) == 0 {
		conn.Close()
		return nil, fmt.Errorf("X display %q has no screens", display)
	}
	p := &Provider{conn: conn, root: setup.DefaultScreen(conn).Root}

	for name, dst := range map[string]*xproto.Atom{
		"_NET_CLIENT_LIST":     &p.atoms.clientList,
		"_NET_WM_DESKTOP":      &p.atoms.wmDesktop,
		"_NET_CURRENT_DESKTOP": &p.atoms.curDesktop,
		"_NET_WM_STATE":        &p.atoms.wmState,
		"_NET_WM_STATE_HIDDEN": &p.atoms.stateHidden,
		"_NET_WM_STATE_STICKY": &p.atoms.stateSticky,
		"_NET_FRAME_EXTENTS":   &p.atoms.frameExtents,
		"_NET_WM_CM_S0":        &p.atoms.compositorSel,
	} {
		a, err := p.intern(name)
		if err != nil {
			conn.Close()
			return nil, err
		}
		*dst = a
	}

	if err := shape.Init(conn); err != nil {
		log.Warnw("x11: SHAPE extension unavailable, overlay will catch input", "err", err)
	} else {
		p.shape = true
	}
	return p, nil
}

func (p *Provider) Close() { p.conn.Close() }

func (p *Provider) intern(name string) (xproto.Atom, error) {
	r, err := xproto.InternAtom(p.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern atom %s: %w", name, err)
	}
	return r.Atom, nil
}

// Desktop returns the root window size.
func (p *Provider) Desktop() (int, int, error) {
	g, err := xproto.GetGeometry(p.conn, xproto.Drawable(p.root)).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("root geometry: %w", err)
	}
	return int(g.Width), int(g.Height), nil
}

// CurrentWorkspace reads _NET_CURRENT_DESKTOP; without a pager-aware window manager
// everything is on workspace 0.
func (p *Provider) CurrentWorkspace() (int, error) {
	v, err := p.cardinals(p.root, p.atoms.curDesktop, xproto.AtomCardinal)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, nil
	}
	return int(v[0]), nil
}

// Windows lists the managed top-level windows. Windows that disappear while being
// queried are skipped.
func (p *Provider) Windows() ([]fallen.WindowInfo, error) {
	ids, err := p.cardinals(p.root, p.atoms.clientList, xproto.AtomWindow)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		// No EWMH client list: fall back to the root's mapped children.
		tree, err := xproto.QueryTree(p.conn, p.root).Reply()
		if err != nil {
			return nil, fmt.Errorf("query tree: %w", err)
		}
		for _, w := range tree.Children {
			ids = append(ids, uint32(w))
		}
	}

	out := make([]fallen.WindowInfo, 0, len(ids))
	for _, id := range ids {
		info, err := p.window(xproto.Window(id))
		if err != nil {
			log.Debugw("x11: window skipped", "id", id, "err", err)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *Provider) window(w xproto.Window) (fallen.WindowInfo, error) {
	info := fallen.WindowInfo{ID: fallen.WindowID(w)}

	attrs, err := xproto.GetWindowAttributes(p.conn, w).Reply()
	if err != nil {
		return info, fmt.Errorf("attributes: %w", err)
	}
	info.Hidden = attrs.MapState != xproto.MapStateViewable || attrs.OverrideRedirect

	geo, err := xproto.GetGeometry(p.conn, xproto.Drawable(w)).Reply()
	if err != nil {
		return info, fmt.Errorf("geometry: %w", err)
	}
	pos, err := xproto.TranslateCoordinates(p.conn, w, p.root, 0, 0).Reply()
	if err != nil {
		return info, fmt.Errorf("translate: %w", err)
	}
	info.X, info.Y = int(pos.DstX), int(pos.DstY)
	info.W, info.H = int(geo.Width), int(geo.Height)

	// Snow sits on the frame, not the client area.
	if ext, err := p.cardinals(w, p.atoms.frameExtents, xproto.AtomCardinal); err == nil && len(ext) == 4 {
		left, right, top, bottom := int(ext[0]), int(ext[1]), int(ext[2]), int(ext[3])
		info.X -= left
		info.Y -= top
		info.W += left + right
		info.H += top + bottom
	}

	if d, err := p.cardinals(w, p.atoms.wmDesktop, xproto.AtomCardinal); err == nil && len(d) > 0 {
		if d[0] == allDesktops {
			info.Sticky = true
		} else {
			info.Workspace = int(d[0])
		}
	}
	if st, err := p.cardinals(w, p.atoms.wmState, xproto.AtomAtom); err == nil {
		for _, a := range st {
			switch xproto.Atom(a) {
			case p.atoms.stateHidden:
				info.Hidden = true
			case p.atoms.stateSticky:
				info.Sticky = true
			}
		}
	}
	return info, nil
}

// cardinals reads a 32-bit list property. A missing property yields an empty list.
func (p *Provider) cardinals(w xproto.Window, prop, typ xproto.Atom) ([]uint32, error) {
	r, err := xproto.GetProperty(p.conn, false, w, prop, typ, 0, 1<<16).Reply()
	if err != nil {
		return nil, fmt.Errorf("get property %d: %w", prop, err)
	}
	if r.Format != 32 {
		return nil, nil
	}
	out := make([]uint32, 0, r.ValueLen)
	for i := 0; i+4 <= len(r.Value); i += 4 {
		out = append(out, xgb.Get32(r.Value[i:]))
	}
	return out, nil
}

// Compositing reports whether a compositing manager owns the _NET_WM_CM_S0
// selection; without one the overlay cannot be transparent.
func (p *Provider) Compositing() bool {
	owner, err := xproto.GetSelectionOwner(p.conn, p.atoms.compositorSel).Reply()
	if err != nil {
		return false
	}
	return owner.Owner != xproto.WindowNone
}

// ClickThrough gives w an empty input shape so pointer events reach the windows
// below it.
func (p *Provider) ClickThrough(w uint32) error {
	if !p.shape {
		return fmt.Errorf("SHAPE extension unavailable")
	}
	err := shape.RectanglesChecked(p.conn, shape.SoSet, shape.SkInput, xproto.ClipOrderingUnsorted,
		xproto.Window(w), 0, 0, nil).Check()
	if err != nil {
		return fmt.Errorf("clear input shape: %w", err)
	}
	return nil
}
