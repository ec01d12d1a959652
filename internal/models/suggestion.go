package models

// Suggestion is a lightweight candidate location returned by the suggest endpoint.
type Suggestion struct {
	Name           string `json:"name"`
	MapboxID       string `json:"mapbox_id"`
	Address        string `json:"address,omitempty"`
	FullAddress    string `json:"full_address,omitempty"`
	PlaceFormatted string `json:"place_formatted,omitempty"`
}

// Description is the secondary line shown under the suggestion name.
func (s Suggestion) Description() string {
	if s.PlaceFormatted != "" {
		return s.PlaceFormatted
	}
	if s.FullAddress != "" {
		return s.Address
	}
	return ""
}
