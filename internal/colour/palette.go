package colour

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Palette is the shared, editable list of colours effects can refer to as
// P1, P2, ... or P* (every entry). Every edit bumps Version so effects that
// cache a resolved form know to rebuild it.
type Palette struct {
	mu      sync.RWMutex
	colours []Extended
	version uint64
}

// NewPalette creates a palette holding colours.
func NewPalette(colours ...Extended) *Palette {
	p := &Palette{}
	p.Set(colours...)
	return p
}

// Set replaces the palette contents.
func (p *Palette) Set(colours ...Extended) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.colours = append([]Extended(nil), colours...)
	p.version++
}

// SetEntry replaces entry i (0-based), growing the palette with black if needed.
func (p *Palette) SetEntry(i int, c Extended) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.colours) <= i {
		p.colours = append(p.colours, Black)
	}
	p.colours[i] = c
	p.version++
}

// Colours returns a copy of the palette entries.
func (p *Palette) Colours() []Extended {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Extended(nil), p.colours...)
}

// Version increases on every edit. A nil palette has version 0.
func (p *Palette) Version() uint64 {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// IsRef reports whether s is a palette reference rather than a literal colour.
func IsRef(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 2 && (s[0] == 'P' || s[0] == 'p') && (s[1] == '*' || (s[1] >= '0' && s[1] <= '9'))
}

// Resolve turns a list of literal colours and palette references into
// colours. P* expands to every palette entry; references past the end of the
// palette resolve to black. A nil palette resolves every reference to black.
func (p *Palette) Resolve(refs []string) ([]Extended, error) {
	var entries []Extended
	if p != nil {
		entries = p.Colours()
	}

	out := make([]Extended, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if !IsRef(ref) {
			c, err := Parse(ref)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
			continue
		}
		if ref[1] == '*' {
			out = append(out, entries...)
			continue
		}
		n, err := strconv.Atoi(ref[1:])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("palette reference %q: want P1, P2, ... or P*", ref)
		}
		if n > len(entries) {
			out = append(out, Black)
			continue
		}
		out = append(out, entries[n-1])
	}
	return out, nil
}
