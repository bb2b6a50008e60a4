package model

import "math"

// Location is a GeoJSON point, coordinates ordered longitude then latitude.
type Location struct {
	Type        string    `json:"-" groups:"basic"`
	Coordinates []float64 `json:"coordinates" groups:"basic"`
}

func NewLocation(latitude float64, longitude float64) *Location {
	return &Location{
		Type:        "Point",
		Coordinates: []float64{longitude, latitude},
	}
}

func (l *Location) Longitude() float64 {
	return l.Coordinates[0]
}

func (l *Location) Latitude() float64 {
	return l.Coordinates[1]
}

// DistanceTo returns the great-circle distance to other in kilometres.
func (l *Location) DistanceTo(other *Location) float64 {
	const earthRadiusKm = 6371

	lat1 := l.Latitude() * math.Pi / 180
	lat2 := other.Latitude() * math.Pi / 180
	deltaLat := (other.Latitude() - l.Latitude()) * math.Pi / 180
	deltaLon := (other.Longitude() - l.Longitude()) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// WithinDegreeDelta reports whether both axes are within threshold degrees of
// other. Plain degree comparison, not isometric at high latitudes. 0.001
// degrees is roughly 111 metres at the equator.
func (l *Location) WithinDegreeDelta(other *Location, threshold float64) bool {
	return math.Abs(l.Latitude()-other.Latitude()) < threshold &&
		math.Abs(l.Longitude()-other.Longitude()) < threshold
}
