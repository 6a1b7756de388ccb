package counter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/zsiec/vehiclecount/internal/vision"
)

var names = map[int]string{0: "person", 2: "Car", 5: "BUS", 7: "truck", 9: "van"}

func track(class, id int) vision.Track {
	return vision.Track{Detection: vision.Detection{ClassID: class}, Identity: id}
}

func TestSameIdentityCountedOnce(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Update([]vision.Track{track(2, 7)}, names)
	}
	assert.Equal(t, 1, c.Counts()[Car])
	assert.Equal(t, 1, c.Seen(Car))
}

func TestDistinctIdentities(t *testing.T) {
	c := New()
	c.Update([]vision.Track{track(7, 1), track(7, 2)}, names)
	c.Update([]vision.Track{track(7, 2), track(7, 3)}, names)
	c.Update([]vision.Track{track(7, 4)}, names)

	assert.Equal(t, 4, c.Counts()[Truck])
	assert.Equal(t, 4, c.Total())
}

func TestVisibleResetsEachFrame(t *testing.T) {
	c := New()
	visible := c.Update([]vision.Track{track(2, 1), track(2, 2), track(5, 3)}, names)
	if diff := cmp.Diff(map[string]int{Car: 2, Van: 0, Truck: 0, Bus: 1}, visible); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}

	visible = c.Update(nil, names)
	if diff := cmp.Diff(Zero(), visible); diff != "" {
		t.Errorf("visible should reset (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, c.Counts()[Car])
	assert.Equal(t, 1, c.Counts()[Bus])
}

func TestUnidentifiedTracksAreVisibleOnly(t *testing.T) {
	c := New()
	visible := c.Update([]vision.Track{track(9, 0), track(9, 0)}, names)
	assert.Equal(t, 2, visible[Van])
	assert.Equal(t, 0, c.Counts()[Van])
	assert.Empty(t, c.Added())
}

func TestNonCountableClassesIgnored(t *testing.T) {
	c := New()
	visible := c.Update([]vision.Track{track(0, 1), track(42, 2)}, names)
	assert.Equal(t, Zero(), visible)
	assert.Equal(t, 0, c.Total())
	_, ok := c.Counts()["person"]
	assert.False(t, ok)
}

func TestIdentitiesArePerClass(t *testing.T) {
	c := New()
	c.Update([]vision.Track{track(2, 5), track(7, 5)}, names)
	assert.Equal(t, 1, c.Counts()[Car])
	assert.Equal(t, 1, c.Counts()[Truck])
	assert.Equal(t, []string{Car, Truck}, c.Added())
}

func TestCountsMatchSeen(t *testing.T) {
	c := New()
	frames := [][]vision.Track{
		{track(2, 1), track(5, 2)},
		{track(2, 1), track(2, 3), track(9, 0)},
		{track(9, 4), track(5, 2), track(7, 5)},
	}
	for _, f := range frames {
		c.Update(f, names)
		for _, cls := range Classes {
			assert.Equal(t, c.Seen(cls), c.Counts()[cls], cls)
		}
	}
}

func TestReset(t *testing.T) {
	c := New()
	c.Update([]vision.Track{track(2, 1)}, names)
	c.Reset()
	assert.Equal(t, Zero(), c.Counts())
	assert.Equal(t, 0, c.Seen(Car))

	c.Update([]vision.Track{track(2, 1)}, names)
	assert.Equal(t, 1, c.Counts()[Car], "identity is countable again after reset")
}

func TestReturnedMapsAreCopies(t *testing.T) {
	c := New()
	c.Update([]vision.Track{track(2, 1)}, names)
	counts := c.Counts()
	counts[Car] = 99
	assert.Equal(t, 1, c.Counts()[Car])
}

func TestCanonical(t *testing.T) {
	for in, want := range map[string]string{"Car": Car, " TRUCK ": Truck, "bus": Bus, "Van": Van} {
		got, ok := Canonical(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := Canonical("motorcycle")
	assert.False(t, ok)
}
