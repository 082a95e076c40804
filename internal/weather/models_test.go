package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocationPairSides(t *testing.T) {
	p := LocationPair{
		UrbanName: "Phoenix", UrbanLat: 33.4484, UrbanLon: -112.0740,
		RuralName: "Buckeye", RuralLat: 33.3705, RuralLon: -112.5838,
	}

	assert.Equal(t, Location{Name: "Phoenix", Latitude: 33.4484, Longitude: -112.0740, IsUrban: true}, p.Urban())
	assert.Equal(t, Location{Name: "Buckeye", Latitude: 33.3705, Longitude: -112.5838}, p.Rural())
	assert.Equal(t, "Phoenix-Buckeye", p.Key())
}
