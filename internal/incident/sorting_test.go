package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loc(lat, lon float64) *Location {
	return &Location{Lat: lat, Lon: lon}
}

func TestSortedByDate(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("orders newest first", func(t *testing.T) {
		in := []Incident{
			{ID: "old", Time: base.Add(-time.Hour), Summary: "Old"},
			{ID: "new", Time: base.Add(time.Hour), Summary: "New"},
			{ID: "mid", Time: base, Summary: "Mid"},
		}

		out := SortedByDate(in)

		require.Len(t, out, 3)
		assert.Equal(t, "new", out[0].ID)
		assert.Equal(t, "mid", out[1].ID)
		assert.Equal(t, "old", out[2].ID)
	})

	t.Run("breaks timestamp ties deterministically", func(t *testing.T) {
		a := Incident{ID: "a", Time: base, Summary: "Alpha"}
		b := Incident{ID: "b", Time: base, Summary: "Bravo"}

		first := SortedByDate([]Incident{a, b})
		second := SortedByDate([]Incident{b, a})

		// "Bravo" > "Alpha", so b sorts first regardless of input order.
		require.Len(t, first, 2)
		assert.Equal(t, "b", first[0].ID)
		assert.Equal(t, first, second)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		in := []Incident{
			{ID: "old", Time: base.Add(-time.Hour)},
			{ID: "new", Time: base.Add(time.Hour)},
		}

		_ = SortedByDate(in)

		assert.Equal(t, "old", in[0].ID)
	})

	t.Run("handles empty input", func(t *testing.T) {
		out := SortedByDate(nil)
		assert.Empty(t, out)
	})
}

func TestSortedByLocation(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ref := Location{Lat: 47.6062, Lon: -122.3321} // Seattle

	t.Run("orders nearest first", func(t *testing.T) {
		in := []Incident{
			{ID: "portland", Time: base, Location: loc(45.5152, -122.6784)},
			{ID: "tacoma", Time: base, Location: loc(47.2529, -122.4443)},
			{ID: "bellevue", Time: base, Location: loc(47.6101, -122.2015)},
		}

		out := SortedByLocation(in, ref)

		require.Len(t, out, 3)
		assert.Equal(t, "bellevue", out[0].ID)
		assert.Equal(t, "tacoma", out[1].ID)
		assert.Equal(t, "portland", out[2].ID)
	})

	t.Run("locationless incidents sort last", func(t *testing.T) {
		in := []Incident{
			{ID: "nowhere", Time: base.Add(time.Hour)},
			{ID: "far", Time: base, Location: loc(45.5152, -122.6784)},
			{ID: "near", Time: base, Location: loc(47.6101, -122.2015)},
		}

		out := SortedByLocation(in, ref)

		require.Len(t, out, 3)
		assert.Equal(t, "near", out[0].ID)
		assert.Equal(t, "far", out[1].ID)
		assert.Equal(t, "nowhere", out[2].ID)
	})

	t.Run("locationless incidents order by date among themselves", func(t *testing.T) {
		in := []Incident{
			{ID: "older", Time: base.Add(-time.Hour)},
			{ID: "newer", Time: base.Add(time.Hour)},
			{ID: "located", Time: base, Location: loc(47.6101, -122.2015)},
		}

		out := SortedByLocation(in, ref)

		require.Len(t, out, 3)
		assert.Equal(t, "located", out[0].ID)
		assert.Equal(t, "newer", out[1].ID)
		assert.Equal(t, "older", out[2].ID)
	})

	t.Run("equal distances fall back to the date rule", func(t *testing.T) {
		same := loc(47.6101, -122.2015)
		in := []Incident{
			{ID: "older", Time: base.Add(-time.Hour), Location: same},
			{ID: "newer", Time: base.Add(time.Hour), Location: same},
		}

		out := SortedByLocation(in, ref)

		require.Len(t, out, 2)
		assert.Equal(t, "newer", out[0].ID)
		assert.Equal(t, "older", out[1].ID)
	})
}

func TestDistanceMeters(t *testing.T) {
	t.Run("identical points", func(t *testing.T) {
		p := Location{Lat: 47.6062, Lon: -122.3321}
		assert.Zero(t, DistanceMeters(p, p))
	})

	t.Run("known distance", func(t *testing.T) {
		seattle := Location{Lat: 47.6062, Lon: -122.3321}
		portland := Location{Lat: 45.5152, Lon: -122.6784}

		d := DistanceMeters(seattle, portland)

		// Roughly 234 km as the crow flies.
		assert.InDelta(t, 234000, d, 3000)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Location{Lat: 47.6062, Lon: -122.3321}
		b := Location{Lat: 45.5152, Lon: -122.6784}

		assert.Equal(t, DistanceMeters(a, b), DistanceMeters(b, a))
	})
}
