package models

import "fmt"

// MapStyle names a Mapbox base map style.
type MapStyle string

const (
	StyleStreets   MapStyle = "streets-v12"
	StyleOutdoors  MapStyle = "outdoors-v12"
	StyleSatellite MapStyle = "satellite-v9"
)

// DefaultStyle is the base map a new session starts with.
const DefaultStyle = StyleSatellite

// MarkerColor is the color of the marker placed on a resolved place.
const MarkerColor = "orange"

// Styles lists the selectable styles in display order.
var Styles = []MapStyle{StyleStreets, StyleOutdoors, StyleSatellite}

// ParseMapStyle validates a style name.
func ParseMapStyle(name string) (MapStyle, error) {
	for _, s := range Styles {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown map style %q", name)
}

// URL is the style URL consumed by the map renderer.
func (s MapStyle) URL() string {
	return "mapbox://styles/mapbox/" + string(s)
}

// MapView is what the map renderer needs to fly to a place and mark it.
type MapView struct {
	Center      Coordinate  `json:"center"`
	Zoom        float64     `json:"zoom"`
	Style       MapStyle    `json:"style"`
	StyleURL    string      `json:"style_url"`
	Marker      *Coordinate `json:"marker,omitempty"`
	MarkerColor string      `json:"marker_color,omitempty"`
}

// NewMapView centers a view on place. A marker is placed only for resolved places.
func NewMapView(place PlaceDetail, style MapStyle) MapView {
	view := MapView{
		Center:   place.Coordinates,
		Zoom:     place.Zoom,
		Style:    style,
		StyleURL: style.URL(),
	}
	if !place.ResolvedAt.IsZero() {
		marker := place.Coordinates
		view.Marker = &marker
		view.MarkerColor = MarkerColor
	}
	return view
}
