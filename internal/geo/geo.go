package geo

import (
	"math"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

const (
	earthRadiusKm          = 6371.0
	equatorCircumferenceKm = 40075.0
)

// DistanceMeters calculates the distance between two coordinates using the Haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c * 1000
}

// BoxForZoom returns the box a web map would show around the center at the
// given zoom level. Half of the tile span is used as the radius.
func BoxForZoom(lat, lon float64, zoom int) types.BoundingBox {
	latRad := lat * math.Pi / 180
	radiusKm := equatorCircumferenceKm * math.Cos(latRad) / math.Pow(2, float64(zoom+1))

	latDelta := radiusKm / earthRadiusKm * 180 / math.Pi
	lonDelta := latDelta
	if c := math.Cos(latRad); c > 1e-6 {
		lonDelta = latDelta / c
	}

	return Clamp(types.BoundingBox{
		South: lat - latDelta,
		West:  lon - lonDelta,
		North: lat + latDelta,
		East:  lon + lonDelta,
	})
}

// LimitSpan shrinks the box around its center so neither side exceeds maxSpan degrees.
func LimitSpan(b types.BoundingBox, maxSpan float64) types.BoundingBox {
	if maxSpan <= 0 {
		return b
	}
	if b.North-b.South > maxSpan {
		mid := (b.North + b.South) / 2
		b.South, b.North = mid-maxSpan/2, mid+maxSpan/2
	}
	if b.East-b.West > maxSpan {
		mid := (b.East + b.West) / 2
		b.West, b.East = mid-maxSpan/2, mid+maxSpan/2
	}
	return Clamp(b)
}

// Clamp keeps the box inside WGS84 bounds.
func Clamp(b types.BoundingBox) types.BoundingBox {
	b.South = math.Max(b.South, -90)
	b.North = math.Min(b.North, 90)
	b.West = math.Max(b.West, -180)
	b.East = math.Min(b.East, 180)
	return b
}
