package trailer

import (
	"net/url"
	"strings"
)

type Kind string

const (
	KindTrailer Kind = "Trailer"
	KindTeaser  Kind = "Teaser"
)

// DefaultSite is the provider preferred for trailers.
const DefaultSite = "YouTube"

// Video is one candidate returned by the metadata service for an item.
type Video struct {
	Key      string `json:"key"`
	Site     string `json:"site"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Official bool   `json:"official,omitempty"`
}

// Ref identifies the trailer chosen for an item.
type Ref struct {
	Key  string `json:"key"`
	Site string `json:"site"`
	Kind Kind   `json:"kind"`
}

func (r Ref) IsZero() bool {
	return strings.TrimSpace(r.Key) == ""
}

// EmbedURL builds a muted, looping, chrome-less autoplay URL for the embed
// provider. The JS API is enabled so the frame accepts mute commands.
func (r Ref) EmbedURL() string {
	if r.IsZero() {
		return ""
	}
	if !strings.EqualFold(r.Site, "youtube") {
		return ""
	}
	q := url.Values{}
	q.Set("autoplay", "1")
	q.Set("mute", "1")
	q.Set("controls", "0")
	q.Set("loop", "1")
	q.Set("playlist", r.Key)
	q.Set("playsinline", "1")
	q.Set("modestbranding", "1")
	q.Set("enablejsapi", "1")
	return "https://www.youtube.com/embed/" + url.PathEscape(r.Key) + "?" + q.Encode()
}

// Select applies the resolution policy: first Trailer on the preferred site,
// else first Teaser on any site, else nothing.
func Select(videos []Video, preferredSite string) (Ref, bool) {
	if preferredSite == "" {
		preferredSite = DefaultSite
	}
	for _, v := range videos {
		if v.Key == "" {
			continue
		}
		if strings.EqualFold(v.Type, string(KindTrailer)) && strings.EqualFold(v.Site, preferredSite) {
			return Ref{Key: v.Key, Site: v.Site, Kind: KindTrailer}, true
		}
	}
	for _, v := range videos {
		if v.Key == "" {
			continue
		}
		if strings.EqualFold(v.Type, string(KindTeaser)) {
			return Ref{Key: v.Key, Site: v.Site, Kind: KindTeaser}, true
		}
	}
	return Ref{}, false
}
