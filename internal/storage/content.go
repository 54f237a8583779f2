package storage

import (
	"mime"
	"path"
	"strings"
)

const defaultContentType = "application/octet-stream"

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/gif":  ".gif",
}

// ContentTypeFor guesses the MIME type of an object from its key.
func ContentTypeFor(key string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		return ct
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".heic":
		return "image/heic"
	case ".webp":
		return "image/webp"
	}
	return defaultContentType
}

// ImageExtension returns the file extension to store an image under.
// ok is false when contentType is not an accepted image type.
func ImageExtension(contentType, filename string) (ext string, ok bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		if ext, ok := imageExtensions[strings.ToLower(mediaType)]; ok {
			return ext, true
		}
	}
	ext = strings.ToLower(path.Ext(filename))
	for _, known := range imageExtensions {
		if ext == known || (ext == ".jpeg" && known == ".jpg") {
			return known, true
		}
	}
	return "", false
}
