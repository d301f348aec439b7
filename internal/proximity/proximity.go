// Package proximity folds raw location readings into a single position and
// judges it against a spot's unlock gates.
package proximity

import (
	"math"
	"slices"

	"github.com/playperu/stamprally/internal/stamprally"
)

const (
	EarthRadiusMeters = 6371000.0

	// Readings worse than this are dropped from the coordinate mean,
	// unless every reading is worse.
	GoodAccuracyMeters = 50.0

	MaxSpeedMps       = 2.0
	MaxAccuracyMeters = 100.0
)

// Distance returns the great-circle distance in meters between two points
// given in degrees.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Pow(math.Sin(dLng/2), 2)
	// Rounding can push a past 1 for near-antipodal points.
	a = math.Min(1, a)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

func rad(d float64) float64 { return d * math.Pi / 180 }

// Aggregate reduces readings to one position. It returns false for an
// empty batch.
func Aggregate(readings []stamprally.RawReading) (stamprally.AggregatedPosition, bool) {
	if len(readings) == 0 {
		return stamprally.AggregatedPosition{}, false
	}

	base := make([]stamprally.RawReading, 0, len(readings))
	for _, r := range readings {
		if r.AccuracyMeters <= GoodAccuracyMeters {
			base = append(base, r)
		}
	}
	if len(base) == 0 {
		base = readings
	}

	var pos stamprally.AggregatedPosition
	for _, r := range base {
		pos.Lat += r.Lat
		pos.Lng += r.Lng
	}
	pos.Lat /= float64(len(base))
	pos.Lng /= float64(len(base))

	for _, r := range readings {
		pos.AccuracyMeters += r.AccuracyMeters
	}
	pos.AccuracyMeters /= float64(len(readings))

	if len(readings) >= 2 {
		ordered := slices.Clone(readings)
		slices.SortStableFunc(ordered, func(a, b stamprally.RawReading) int {
			switch {
			case a.TimestampMs < b.TimestampMs:
				return -1
			case a.TimestampMs > b.TimestampMs:
				return 1
			}
			return 0
		})
		prev, last := ordered[len(ordered)-2], ordered[len(ordered)-1]
		d := Distance(prev.Lat, prev.Lng, last.Lat, last.Lng)
		dt := math.Max(1, float64(last.TimestampMs-prev.TimestampMs)/1000)
		speed := d / dt
		pos.AvgSpeedMps = &speed
	}

	return pos, true
}

// Evaluate applies every gate and reports all that fail. Each gate fails
// closed: a NaN measurement never passes.
func Evaluate(pos stamprally.AggregatedPosition, spot stamprally.Spot) stamprally.Verdict {
	v := stamprally.Verdict{
		DistanceMeters: Distance(pos.Lat, pos.Lng, spot.Lat, spot.Lng),
	}
	if !(v.DistanceMeters <= spot.RadiusMeters) {
		v.Reasons = v.Reasons.Add(stamprally.TooFar)
	}
	if pos.AvgSpeedMps != nil && !(*pos.AvgSpeedMps <= MaxSpeedMps) {
		v.Reasons = v.Reasons.Add(stamprally.TooFast)
	}
	if !(pos.AccuracyMeters <= MaxAccuracyMeters) {
		v.Reasons = v.Reasons.Add(stamprally.TooImprecise)
	}
	v.Passed = v.Reasons.Empty()
	return v
}
