package stabilizer

import "math"

const earthRadiusM = 6371008.8

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat, Lon float64
}

// Distance returns the haversine distance in meters.
func Distance(a, b Point) float64 {
	la1, la2 := radians(a.Lat), radians(b.Lat)
	dLat := la2 - la1
	dLon := radians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// InitialBearing returns the forward azimuth from a to b in [0, 360).
func InitialBearing(a, b Point) float64 {
	la1, la2 := radians(a.Lat), radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(la2)
	x := math.Cos(la1)*math.Sin(la2) - math.Sin(la1)*math.Cos(la2)*math.Cos(dLon)
	return NormalizeBearing(degrees(math.Atan2(y, x)))
}

// circularMean averages angles on the unit circle.
func circularMean(deg []float64) float64 {
	var sx, sy float64
	for _, d := range deg {
		sx += math.Cos(radians(d))
		sy += math.Sin(radians(d))
	}
	return NormalizeBearing(degrees(math.Atan2(sy, sx)))
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
