package mapbox

// suggestResponse mirrors the relevant parts of the suggest payload.
type suggestResponse struct {
	Suggestions []struct {
		Name           string `json:"name"`
		MapboxID       string `json:"mapbox_id"`
		Address        string `json:"address"`
		FullAddress    string `json:"full_address"`
		PlaceFormatted string `json:"place_formatted"`
	} `json:"suggestions"`
}

// retrieveResponse mirrors the relevant parts of the retrieve FeatureCollection.
type retrieveResponse struct {
	Features []struct {
		Properties struct {
			Name        string `json:"name"`
			FullAddress string `json:"full_address"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}
