package featured

type Images struct {
	Backdrop string `json:"backdrop"`
	Poster   string `json:"poster"`
}

type Actions struct {
	DetailsURL string `json:"detailsUrl"`
	WatchURL   string `json:"watchUrl"`
}

// Item is one slide of the rotation set. The carousel never mutates it.
type Item struct {
	ID          string  `json:"id"`
	MediaType   string  `json:"mediaType"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReleaseDate string  `json:"releaseDate,omitempty"`
	Year        int     `json:"year,omitempty"`
	Images      Images  `json:"images"`
	Actions     Actions `json:"actions"`
}

type PublicConfig struct {
	Limit     int      `json:"limit"`
	Window    string   `json:"window"`
	MinRating float64  `json:"minRating"`
	UI        UIConfig `json:"ui"`
}

type ItemsResponse struct {
	Items  []Item       `json:"items"`
	Config PublicConfig `json:"config"`
}

func (c Config) Public() PublicConfig {
	return PublicConfig{
		Limit:     c.Limit,
		Window:    c.Window,
		MinRating: c.MinRating,
		UI:        c.UI,
	}
}

// SameIDs reports whether a and b list the same items in the same order.
func SameIDs(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].MediaType != b[i].MediaType {
			return false
		}
	}
	return true
}
