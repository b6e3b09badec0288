package video

import (
	"fmt"
	"image"
	_ "image/gif"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

//LoadImage decodes an uploaded picture (JPEG, PNG, GIF, TIFF, BMP or WebP) applying its EXIF orientation, so
//landmarks are found on the picture as the user sees it
func LoadImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("LoadImage: %w", err)
	}

	return img, nil
}
