// Package counter keeps per-class cumulative vehicle counts keyed on tracker
// identities.
package counter

import (
	"strings"

	"github.com/zsiec/vehiclecount/internal/vision"
)

// Countable classes in canonical form.
const (
	Car   = "car"
	Van   = "van"
	Truck = "truck"
	Bus   = "bus"
)

// Classes lists the countable classes in display order.
var Classes = []string{Car, Van, Truck, Bus}

// Canonical maps a model class name to its countable form. ok is false for
// classes that are not counted.
func Canonical(name string) (string, bool) {
	c := strings.ToLower(strings.TrimSpace(name))
	switch c {
	case Car, Van, Truck, Bus:
		return c, true
	}
	return "", false
}

// Zero returns a map with every countable class set to 0.
func Zero() map[string]int {
	m := make(map[string]int, len(Classes))
	for _, c := range Classes {
		m[c] = 0
	}
	return m
}

// Counter counts each identity once per class. It is not safe for concurrent
// use; callers serialise Update with their stats lock.
type Counter struct {
	seen    map[string]map[int]struct{}
	counts  map[string]int
	visible map[string]int
	// added holds the classes newly counted by the latest Update
	added []string
}

func New() *Counter {
	c := &Counter{}
	c.Reset()
	return c
}

// Reset clears every seen identity and count.
func (c *Counter) Reset() {
	c.seen = make(map[string]map[int]struct{}, len(Classes))
	for _, cls := range Classes {
		c.seen[cls] = make(map[int]struct{})
	}
	c.counts = Zero()
	c.visible = Zero()
	c.added = nil
}

// Update folds one processed frame into the counts and returns the classes
// visible in it. Tracks without identity add to the visible count only.
func (c *Counter) Update(tracks []vision.Track, classNames map[int]string) map[string]int {
	c.visible = Zero()
	c.added = c.added[:0]

	for _, t := range tracks {
		cls, ok := Canonical(classNames[t.ClassID])
		if !ok {
			continue
		}
		c.visible[cls]++

		if !t.HasIdentity() {
			continue
		}
		if _, dup := c.seen[cls][t.Identity]; dup {
			continue
		}
		c.seen[cls][t.Identity] = struct{}{}
		c.counts[cls]++
		c.added = append(c.added, cls)
	}

	return copyMap(c.visible)
}

// Counts returns a copy of the cumulative counts.
func (c *Counter) Counts() map[string]int {
	return copyMap(c.counts)
}

// Visible returns a copy of the counts from the latest Update.
func (c *Counter) Visible() map[string]int {
	return copyMap(c.visible)
}

// Added returns the classes counted for the first time by the latest Update,
// one entry per new identity.
func (c *Counter) Added() []string {
	out := make([]string, len(c.added))
	copy(out, c.added)
	return out
}

// Seen returns how many distinct identities have been counted for class.
func (c *Counter) Seen(class string) int {
	return len(c.seen[class])
}

func (c *Counter) Total() int {
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

func copyMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
