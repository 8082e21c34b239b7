package incident

import (
	"math"
	"sort"
)

// SortedByDate returns a copy of incidents ordered newest first.
// Equal timestamps are broken by descending summary comparison so that
// repeated sorts of equal input always produce the identical order; the
// upstream feed does not guarantee stable ordering across fetches.
func SortedByDate(incidents []Incident) []Incident {
	out := make([]Incident, len(incidents))
	copy(out, incidents)
	sort.Slice(out, func(i, j int) bool {
		return lessByDate(&out[i], &out[j])
	})
	return out
}

// SortedByLocation returns a copy of incidents ordered by ascending distance
// from ref. Incidents without a location sort after all located ones.
// Ties, and the relative order among location-less incidents, fall back to
// the date rule; the comparator is a strict weak ordering.
func SortedByLocation(incidents []Incident, ref Location) []Incident {
	out := make([]Incident, len(incidents))
	copy(out, incidents)
	sort.Slice(out, func(i, j int) bool {
		return lessByLocation(&out[i], &out[j], ref)
	})
	return out
}

func lessByDate(a, b *Incident) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.After(b.Time)
	}
	return a.Summary > b.Summary
}

func lessByLocation(a, b *Incident, ref Location) bool {
	switch {
	case a.HasLocation() && !b.HasLocation():
		return true
	case !a.HasLocation() && b.HasLocation():
		return false
	case !a.HasLocation() && !b.HasLocation():
		return lessByDate(a, b)
	}

	da := DistanceMeters(ref, *a.Location)
	db := DistanceMeters(ref, *b.Location)
	if da != db {
		return da < db
	}
	return lessByDate(a, b)
}

// earthRadiusMeters is the mean Earth radius.
const earthRadiusMeters = 6371000

// DistanceMeters computes the great-circle distance between two coordinates
// using the haversine formula.
func DistanceMeters(p1, p2 Location) float64 {
	if p1.Lat == p2.Lat && p1.Lon == p2.Lon {
		return 0
	}

	lat1 := p1.Lat * math.Pi / 180
	lon1 := p1.Lon * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	lon2 := p2.Lon * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
