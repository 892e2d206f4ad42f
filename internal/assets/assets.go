// Package assets classifies attachment files into the per-day asset folders.
package assets

import (
	"path"
	"strings"
)

// Category is the name of a per-day asset subdirectory.
type Category string

const (
	Images Category = "imgs"
	Video  Category = "video"
	Files  Category = "files"
)

// Categories lists every asset subdirectory in creation order.
var Categories = []Category{Images, Video, Files}

var (
	imageExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".avif": true}
	videoExt = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".m4v": true, ".avi": true, ".mkv": true}
)

// Classify maps a filename to its asset category by extension.
func Classify(name string) Category {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case imageExt[ext]:
		return Images
	case videoExt[ext]:
		return Video
	default:
		return Files
	}
}

// IsMedia reports whether name is an image or a video.
func IsMedia(name string) bool {
	return Classify(name) != Files
}

// IsAssetDir reports whether a directory name is one of the asset folders.
func IsAssetDir(name string) bool {
	for _, c := range Categories {
		if string(c) == name {
			return true
		}
	}
	return false
}
