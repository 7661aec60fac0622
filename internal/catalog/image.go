package catalog

import "strings"

const imageBase = "https://image.tmdb.org/t/p/"

// Image size tokens accepted by the image CDN.
const (
	SizeOriginal = "original"
	SizeBackdrop = "w1280"
	SizeMedium   = "w780"
	SizePoster   = "w500"
	SizeThumb    = "w342"
)

// ImageURL builds an absolute image URL. It does no I/O.
func ImageURL(path, size string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if size == "" {
		size = SizeOriginal
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return imageBase + size + path
}
