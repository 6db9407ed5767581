package sim

import (
	"plasmasnow/internal/config"
	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
)

// SyncResult summarizes one reconciliation with the window list.
type SyncResult struct {
	Created, Removed, Moved int
	Released             int // items dropped back into the storm
}

// SyncWindows reconciles the window records with a window list: new eligible
// windows get a record, vanished or hidden ones lose theirs, windows on another
// workspace keep their snow but stop collecting and drawing, and windows that moved
// drop their snow (or carry it along, per DropSnowOnMove).
func (c *Context) SyncWindows(wins []fallen.WindowInfo, workspace int) SyncResult {
	s := c.Cfg.Get()
	var res SyncResult

	c.Store.SoftLock()
	defer c.Store.Unlock()

	seen := make(map[fallen.WindowID]bool, len(wins))
	for _, w := range wins {
		if !c.trackable(w, s) {
			continue
		}
		seen[w.ID] = true
		onScreen := w.Sticky || w.Workspace == workspace

		r := c.Store.Find(w.ID)
		switch {
		case r == nil:
			if !onScreen {
				continue
			}
			var err error
			if r, err = c.Store.Create(w, w.X, w.Y, w.W, s.MaxWindowSnowDepth); err != nil {
				log.Debugw("sim: window not tracked", "id", w.ID, "err", err)
				continue
			}
			res.Created++

		case !r.Info.SameGeometry(w):
			res.Moved++
			if s.DropSnowOnMove {
				res.Released += r.Release(func(x, y float64) { c.Engine.SpawnAt(x, y, false) })
			}
			if r.Info.W == w.W {
				r.X, r.Y = w.X, w.Y
			} else {
				var err error
				if r, err = c.Store.Resize(w, w.X, w.Y, w.W, s.MaxWindowSnowDepth); err != nil {
					log.Debugw("sim: resized window dropped", "id", w.ID, "err", err)
					res.Removed++
					continue
				}
			}
		}
		r.Info = w
		r.Active = onScreen
	}

	// Collect first: Remove reorders the record list.
	var gone []fallen.WindowID
	for _, r := range c.Store.Records() {
		if r.Desktop() {
			r.Active = s.KeepSnowOnDesktop
			continue
		}
		if !seen[r.ID] {
			gone = append(gone, r.ID)
		}
	}
	for _, id := range gone {
		c.Store.Remove(id)
		res.Removed++
	}
	return res
}

// trackable reports whether a window may carry snow at all.
func (c *Context) trackable(w fallen.WindowInfo, s *config.Settings) bool {
	switch {
	case !s.KeepSnowOnWindows:
		return false
	case w.ID == fallen.DesktopID || c.exclude[w.ID]:
		return false
	case w.Hidden:
		return false
	case w.W < fallen.MinWidth:
		return false
	case w.Y < 0 || w.Y >= c.screenH:
		return false
	}
	return true
}
