package verify

import "math"

// earthRadiusM is the mean earth radius used by the haversine formula.
const earthRadiusM = 6371000.0

// Coordinate is a (latitude, longitude) pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeoStatus distinguishes "no geofence configured" from a pass or fail, so
// callers never confuse a skipped check with a passed one.
type GeoStatus string

const (
	GeoSkipped GeoStatus = "skipped"
	GeoPassed  GeoStatus = "passed"
	GeoFailed  GeoStatus = "failed"
)

// GeoResult is the outcome of a geofence check. DistanceM is populated
// whenever the check ran, for user-facing feedback ("you are 210 m away").
type GeoResult struct {
	Status    GeoStatus `json:"status"`
	DistanceM float64   `json:"distance_m"`
	RadiusM   float64   `json:"radius_m"`
}

// Passed reports whether the check did not fail. A skipped check counts as
// not-failed but callers can still tell it apart via Status.
func (r GeoResult) Passed() bool { return r.Status != GeoFailed }

// Geofence computes the great-circle distance between actor and origin and
// classifies it against radiusM. A point at exactly radiusM is in range.
// A nil origin means the window carries no geofence and the check is
// skipped, not passed.
func Geofence(actor Coordinate, origin *Coordinate, radiusM float64) GeoResult {
	if origin == nil || radiusM <= 0 {
		return GeoResult{Status: GeoSkipped}
	}
	d := haversine(actor, *origin)
	status := GeoPassed
	if d > radiusM {
		status = GeoFailed
	}
	return GeoResult{Status: status, DistanceM: d, RadiusM: radiusM}
}

func haversine(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}
