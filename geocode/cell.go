package geocode

import (
	"fmt"
	"math"

	"go-beacon/types"
)

const earthRadiusKM = 6371.0

// kmPerDegreeLat is close enough for coarse bucketing; longitude degrees
// shrink with latitude and are corrected in CellID.
const kmPerDegreeLat = 111.0

// CellID buckets a location into a grid cell of roughly cellKM per side.
// Reports in the same cell are candidates for the same incident cluster.
func CellID(loc types.Location, cellKM float64) string {
	if cellKM <= 0 {
		cellKM = 5.0
	}
	latStep := cellKM / kmPerDegreeLat
	lonScale := math.Cos(loc.Lat * math.Pi / 180)
	if lonScale < 0.01 {
		lonScale = 0.01 // near the poles every cell collapses; clamp
	}
	lonStep := cellKM / (kmPerDegreeLat * lonScale)

	row := int(math.Floor(loc.Lat / latStep))
	col := int(math.Floor(loc.Lng / lonStep))
	return fmt.Sprintf("c%d:%d", row, col)
}

// DistanceKM calculates the great-circle distance between two points
// (specified in decimal degrees) using the haversine formula.
func DistanceKM(a, b types.Location) float64 {
	radLat1 := a.Lat * math.Pi / 180
	radLat2 := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLon := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(radLat1)*math.Cos(radLat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKM * c
}
