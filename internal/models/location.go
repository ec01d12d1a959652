package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Coordinate is a WGS84 point. It is encoded as a [lon, lat] pair, the order the map renderer expects.
type Coordinate struct {
	Lon float64
	Lat float64
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lon, c.Lat})
}

func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) < 2 {
		return fmt.Errorf("coordinate: expected [lon, lat], got %d values", len(pair))
	}
	c.Lon, c.Lat = pair[0], pair[1]
	return nil
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// DefaultZoom is the zoom level applied to every resolved place.
const DefaultZoom = 11.0

// PlaceDetail is the fully resolved location for a chosen suggestion.
type PlaceDetail struct {
	Name        string     `json:"name"`
	FullAddress string     `json:"full_address"`
	Coordinates Coordinate `json:"coordinate_array"`
	Zoom        float64    `json:"zoom"`
	ResolvedAt  time.Time  `json:"resolved_at,omitzero"`
}

// DefaultPlace is where a new session's map is centered before any selection.
var DefaultPlace = PlaceDetail{
	Name:        "Kuala Lumpur",
	FullAddress: "Kuala Lumpur, Malaysia",
	Coordinates: Coordinate{Lon: 101.6841, Lat: 3.1319},
	Zoom:        DefaultZoom,
}
