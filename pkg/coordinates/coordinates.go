package coordinates

import (
	"fmt"
	"math"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusMeters is the Earth's mean radius in meters (WGS84 mean radius)
	EarthRadiusMeters = 6371000.0

	// MetersPerDegreeLatitude is the flat-earth length of one degree of latitude
	MetersPerDegreeLatitude = 111320.0
)

// Geographic represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64

	// Altitude in meters relative to the vehicle's home position
	Altitude float64
}

// DomainError reports a geographic input outside the range the geodesy
// functions are defined for.
type DomainError struct {
	Field string
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("coordinates: %s %v out of range", e.Field, e.Value)
}

// Validate checks that latitude is within [-90, 90] and that both
// components are finite. Longitude is not range-checked: every function in
// this package only uses longitude differences through sin/cos, so wrapped
// values are equivalent.
func (g Geographic) Validate() error {
	if math.IsNaN(g.Latitude) || math.IsInf(g.Latitude, 0) || g.Latitude < -90 || g.Latitude > 90 {
		return &DomainError{Field: "latitude", Value: g.Latitude}
	}
	if math.IsNaN(g.Longitude) || math.IsInf(g.Longitude, 0) {
		return &DomainError{Field: "longitude", Value: g.Longitude}
	}
	return nil
}

// ToRadians converts the Geographic coordinates to radians.
// Returns (latRad, lonRad, altMeters).
func (g Geographic) ToRadians() (float64, float64, float64) {
	return g.Latitude * DegreesToRadians,
		g.Longitude * DegreesToRadians,
		g.Altitude
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	if az >= 360.0 {
		az = 0
	}
	return az
}

// NormalizeBearing folds an angle in radians into [0, 2π).
func NormalizeBearing(rad float64) float64 {
	b := math.Mod(rad, 2*math.Pi)
	if b < 0 {
		b += 2 * math.Pi
	}
	// math.Mod of a tiny negative value plus 2π can round up to 2π.
	if b >= 2*math.Pi {
		b = 0
	}
	return b
}

// InitialBearing calculates the initial bearing (forward azimuth) from one point to another
// along the great circle joining them.
// Returns bearing in radians in [0, 2π), where 0 = North, π/2 = East, π = South, 3π/2 = West.
//
// Identical points and antipodal points both reduce to atan2(0, 0) and yield 0.
// A latitude outside [-90, 90] or a non-finite component returns a *DomainError.
func InitialBearing(from, to Geographic) (float64, error) {
	if err := from.Validate(); err != nil {
		return 0, err
	}
	if err := to.Validate(); err != nil {
		return 0, err
	}

	lat1 := from.Latitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	// reduce to [-180, 180] in degrees so wrapped longitudes give the same
	// sines as their canonical form
	dLon := math.Remainder(to.Longitude-from.Longitude, 360) * DegreesToRadians

	x := math.Sin(dLon) * math.Cos(lat2)
	// explicit conversions keep the compiler from fusing into an FMA, so
	// identical points cancel to exactly zero
	y := float64(math.Cos(lat1)*math.Sin(lat2)) - float64(math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon))

	// atan2 range is (-π, π]; fold through compass degrees into [0, 360)
	compass := NormalizeAzimuth(math.Atan2(x, y)*RadiansToDegrees + 360)

	return NormalizeBearing(compass * DegreesToRadians), nil
}

// BearingDegrees is InitialBearing expressed in compass degrees [0, 360).
func BearingDegrees(from, to Geographic) (float64, error) {
	b, err := InitialBearing(from, to)
	if err != nil {
		return 0, err
	}
	return b * RadiansToDegrees, nil
}

// Distance calculates the great-circle distance between two points.
// Uses the Haversine formula for accuracy over short and long distances.
// Returns distance in meters.
func Distance(from, to Geographic) float64 {
	lat1Rad := from.Latitude * DegreesToRadians
	lon1Rad := from.Longitude * DegreesToRadians
	lat2Rad := to.Latitude * DegreesToRadians
	lon2Rad := to.Longitude * DegreesToRadians

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// OffsetNED moves a point by a local North-East-Down offset in meters using a
// flat-earth approximation around the origin. Good for the short hops a
// position setpoint describes, not for long legs.
func OffsetNED(origin Geographic, north, east, down float64) Geographic {
	metersPerDegLon := MetersPerDegreeLatitude * math.Cos(origin.Latitude*DegreesToRadians)

	out := origin
	out.Latitude += north / MetersPerDegreeLatitude
	if metersPerDegLon > 1e-9 {
		out.Longitude += east / metersPerDegLon
	}
	out.Altitude -= down

	return out
}
