package weather

import (
	"time"
)

// Location is a named geographic point. Name is the natural key.
type Location struct {
	Name      string  `json:"name" yaml:"name" validate:"required"`
	Latitude  float64 `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
	IsUrban   bool    `json:"isUrban" yaml:"-"`
}

// LocationPair is an urban location analyzed together with a nearby rural
// reference location.
type LocationPair struct {
	UrbanName string  `json:"urbanName" yaml:"urban_name" validate:"required"`
	UrbanLat  float64 `json:"urbanLat" yaml:"urban_lat" validate:"gte=-90,lte=90"`
	UrbanLon  float64 `json:"urbanLon" yaml:"urban_lon" validate:"gte=-180,lte=180"`
	RuralName string  `json:"ruralName" yaml:"rural_name" validate:"required,nefield=UrbanName"`
	RuralLat  float64 `json:"ruralLat" yaml:"rural_lat" validate:"gte=-90,lte=90"`
	RuralLon  float64 `json:"ruralLon" yaml:"rural_lon" validate:"gte=-180,lte=180"`
}

// Urban returns the urban side of the pair.
func (p LocationPair) Urban() Location {
	return Location{Name: p.UrbanName, Latitude: p.UrbanLat, Longitude: p.UrbanLon, IsUrban: true}
}

// Rural returns the rural side of the pair.
func (p LocationPair) Rural() Location {
	return Location{Name: p.RuralName, Latitude: p.RuralLat, Longitude: p.RuralLon}
}

// Key returns a canonical string key for logging and indexing.
func (p LocationPair) Key() string {
	return p.UrbanName + "-" + p.RuralName
}

// Observation is one hourly reading for a location. Humidity and Pressure are
// nil when the archive did not report them.
type Observation struct {
	Timestamp   time.Time `json:"timestamp"` // always UTC, hour granularity
	Temperature float64   `json:"temperatureC"`
	Humidity    *float64  `json:"humidityPercent,omitempty"`
	Pressure    *float64  `json:"pressureHpa,omitempty"`
}

// TimeBounds returns the earliest and latest timestamp in obs. ok is false for
// an empty slice.
func TimeBounds(obs []Observation) (earliest, latest time.Time, ok bool) {
	if len(obs) == 0 {
		return time.Time{}, time.Time{}, false
	}
	earliest, latest = obs[0].Timestamp, obs[0].Timestamp
	for _, o := range obs[1:] {
		if o.Timestamp.Before(earliest) {
			earliest = o.Timestamp
		}
		if o.Timestamp.After(latest) {
			latest = o.Timestamp
		}
	}
	return earliest, latest, true
}
