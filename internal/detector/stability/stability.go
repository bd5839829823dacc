// Package stability debounces raw per-window anomaly flags into a stable verdict.
package stability

// Window is the number of recent flags the gate votes over.
const Window = 3

// quorum is the number of anomalous flags needed for a stable anomaly.
const quorum = 2

// Gate keeps the last Window raw flags and reports a 2-of-3 majority vote.
// The zero value holds three false flags and is ready to use. A Gate is not
// safe for concurrent use.
type Gate struct {
	flags [Window]bool
}

// Update shifts raw into the window, dropping the oldest flag, and returns
// whether at least two of the three retained flags are set.
func (g *Gate) Update(raw bool) bool {
	copy(g.flags[:], g.flags[1:])
	g.flags[Window-1] = raw
	return g.Stable()
}

// Stable reports the current vote without changing state.
func (g *Gate) Stable() bool {
	n := 0
	for _, f := range g.flags {
		if f {
			n++
		}
	}
	return n >= quorum
}

// Flags returns the retained flags, oldest first.
func (g *Gate) Flags() [Window]bool { return g.flags }

// Reset clears every flag.
func (g *Gate) Reset() { g.flags = [Window]bool{} }
