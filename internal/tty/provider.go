// Package tty runs the simulation inside a terminal: every character cell stands for
// a block of virtual pixels, and a few fixed ledges play the part of windows.
package tty

import (
	"sync"

	"github.com/gdamore/tcell/v2"

	"plasmasnow/internal/fallen"
)

// Virtual pixels per character cell.
const (
	CellW = 8
	CellH = 16
)

// Provider implements sim.Provider over a terminal. Ledges are given in cells.
type Provider struct {
	screen tcell.Screen

	mu     sync.Mutex
	ledges []Ledge
}

// Ledge is a horizontal shelf snow can settle on, in cell coordinates.
type Ledge struct {
	ID      fallen.WindowID
	Col     int
	Row     int
	Width   int
	Visible bool
}

func NewProvider(screen tcell.Screen) *Provider {
	return &Provider{screen: screen}
}

// SetLedges replaces the ledge list.
func (p *Provider) SetLedges(l []Ledge) {
	p.mu.Lock()
	p.ledges = append(p.ledges[:0:0], l...)
	p.mu.Unlock()
}

// Ledges returns a copy of the current ledges.
func (p *Provider) Ledges() []Ledge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Ledge(nil), p.ledges...)
}

func (p *Provider) Desktop() (int, int, error) {
	cols, rows := p.screen.Size()
	return cols * CellW, rows * CellH, nil
}

func (p *Provider) CurrentWorkspace() (int, error) { return 0, nil }

func (p *Provider) Windows() ([]fallen.WindowInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]fallen.WindowInfo, 0, len(p.ledges))
	for _, l := range p.ledges {
		out = append(out, fallen.WindowInfo{
			ID:     l.ID,
			X:      l.Col * CellW,
			Y:      l.Row * CellH,
			W:      l.Width * CellW,
			H:      CellH,
			Hidden: !l.Visible,
		})
	}
	return out, nil
}

// DefaultLedges lays out two shelves across a cols x rows terminal, or none when it
// is too small to hold them.
func DefaultLedges(cols, rows int) []Ledge {
	if cols < 20 || rows < 12 {
		return nil
	}
	return []Ledge{
		{ID: 1, Col: cols / 8, Row: rows / 3, Width: cols / 4, Visible: true},
		{ID: 2, Col: cols / 2, Row: rows * 2 / 3, Width: cols / 3, Visible: true},
	}
}
