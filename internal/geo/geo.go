// Package geo ranks candidate vehicles by great-circle distance from a query point.
package geo

import (
	"math"
	"sort"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

const (
	// EarthRadiusKM is the mean Earth radius used by HaversineKM.
	EarthRadiusKM = 6371.0
	// AssumedSpeedKmh is the constant speed used for rough ETA estimates.
	AssumedSpeedKmh = 50.0
)

// HaversineKM returns the great-circle distance between a and b in kilometers.
func HaversineKM(a, b models.Location) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if s > 1 {
		s = 1
	}
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusKM * c
}

// ETAMinutes is the rough travel time for distanceKM at AssumedSpeedKmh, rounded to whole minutes.
func ETAMinutes(distanceKM float64) int {
	return int(math.Round(distanceKM / AssumedSpeedKmh * 60))
}

// Candidate is a vehicle position offered to Rank.
type Candidate struct {
	ID       string
	Location models.Location
}

// Match is a ranked candidate.
type Match struct {
	Rank       int             `json:"rank"`
	ID         string          `json:"busId"`
	Location   models.Location `json:"currentLocation"`
	DistanceKM float64         `json:"distance"`
	ETAMinutes int             `json:"estimatedArrival"`
}

// Options controls Rank.
type Options struct {
	// MaxDistanceKM excludes candidates farther than this. Zero or negative disables the cutoff.
	MaxDistanceKM float64
	// Filter, when set, drops candidates for which it returns false.
	Filter func(Candidate) bool
	// Limit caps the number of matches. Zero means no limit.
	Limit int
}

// Rank returns the candidates that pass the filter and cutoff, ordered by
// non-decreasing distance from origin. Equal distances are ordered by ID.
// An empty result is not an error.
func Rank(origin models.Location, candidates []Candidate, opts Options) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if opts.Filter != nil && !opts.Filter(c) {
			continue
		}
		d := HaversineKM(origin, c.Location)
		if opts.MaxDistanceKM > 0 && d > opts.MaxDistanceKM {
			continue
		}
		matches = append(matches, Match{
			ID:         c.ID,
			Location:   c.Location,
			DistanceKM: d,
			ETAMinutes: ETAMinutes(d),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].DistanceKM != matches[j].DistanceKM {
			return matches[i].DistanceKM < matches[j].DistanceKM
		}
		return matches[i].ID < matches[j].ID
	})

	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches
}
