package surface

import (
	"context"
	"strings"
)

const minImageSide = 10

type Image struct {
	Src    string `json:"src"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Alt    string `json:"alt,omitempty"`
}

// ImageSource lists the images of the page the popup was opened on.
type ImageSource interface {
	Images(ctx context.Context) ([]Image, error)
}

// StaticImages is an ImageSource over a fixed list.
type StaticImages []Image

func (s StaticImages) Images(context.Context) ([]Image, error) {
	return append([]Image(nil), s...), nil
}

// FilterImages keeps images larger than 10px on both sides with a fetchable source.
// Protocol-relative sources are upgraded to https.
func FilterImages(images []Image) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		src := strings.TrimSpace(img.Src)
		if img.Width <= minImageSide || img.Height <= minImageSide {
			continue
		}
		if src == "" || strings.HasPrefix(src, "data:") || strings.HasPrefix(src, "blob:") {
			continue
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		img.Src = src
		out = append(out, img)
	}
	return out
}
