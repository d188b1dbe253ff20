package values

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Image is an RGB image with channel values in [0, 1], stored row-major as
// Height x Width x 3.
type Image struct {
	Height, Width int
	Pix           []float32
}

// NewImage returns a black image.
func NewImage(height, width int) *Image {
	return &Image{Height: height, Width: width, Pix: make([]float32, height*width*3)}
}

// At returns channel c of the pixel at row y, column x.
func (img *Image) At(y, x, c int) float32 {
	return img.Pix[(y*img.Width+x)*3+c]
}

// Set sets channel c of the pixel at row y, column x.
func (img *Image) Set(y, x, c int, v float32) {
	img.Pix[(y*img.Width+x)*3+c] = v
}

// Clone returns a deep copy.
func (img *Image) Clone() *Image {
	return &Image{Height: img.Height, Width: img.Width, Pix: slices.Clone(img.Pix)}
}

// Equal reports whether both images have the same size and pixels.
func (img *Image) Equal(other *Image) bool {
	if img == nil || other == nil {
		return img == other
	}
	return img.Height == other.Height && img.Width == other.Width && slices.Equal(img.Pix, other.Pix)
}

// Clamp clips all channel values to [0, 1].
func (img *Image) Clamp() {
	for i, v := range img.Pix {
		img.Pix[i] = min(max(v, 0), 1)
	}
}

// quantize maps a [0, 1] channel value to the nearest 8-bit level.
func quantize(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}

// NRGBA converts the image to 8 bits per channel. Values that are multiples
// of 1/255 survive a NRGBA -> FromImage round trip exactly.
func (img *Image) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for p := 0; p < img.Height*img.Width; p++ {
		out.Pix[p*4] = quantize(img.Pix[p*3])
		out.Pix[p*4+1] = quantize(img.Pix[p*3+1])
		out.Pix[p*4+2] = quantize(img.Pix[p*3+2])
		out.Pix[p*4+3] = 0xff
	}
	return out
}

// FromImage converts any image.Image, dropping the alpha channel.
func FromImage(src image.Image) *Image {
	nrgba := imaging.Clone(src)
	bounds := nrgba.Bounds()
	img := NewImage(bounds.Dy(), bounds.Dx())
	for p := 0; p < img.Height*img.Width; p++ {
		img.Pix[p*3] = float32(nrgba.Pix[p*4]) / 255
		img.Pix[p*3+1] = float32(nrgba.Pix[p*4+1]) / 255
		img.Pix[p*3+2] = float32(nrgba.Pix[p*4+2]) / 255
	}
	return img
}

// EncodeBMP encodes img as a lossless bitmap.
func EncodeBMP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.BMP); err != nil {
		return nil, errors.Wrap(err, "encoding bitmap")
	}
	return buf.Bytes(), nil
}

// DecodeBMP decodes a bitmap produced by EncodeBMP.
func DecodeBMP(data []byte) (*Image, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding bitmap")
	}
	return FromImage(src), nil
}

// gridSize returns the number of columns and rows used to tile count images:
// ceil(sqrt(count)) columns and as many rows as needed.
func gridSize(count int) (columns, rows int) {
	columns = int(math.Ceil(math.Sqrt(float64(count))))
	rows = (count + columns - 1) / columns
	return
}

// Tile composes images into a single grid image, filled row by row. The empty
// cells of a partial last row are left black. All images must share a size.
func Tile(images []*Image) (*image.NRGBA, error) {
	if len(images) == 0 {
		return nil, errors.New("cannot tile zero images")
	}
	height, width := images[0].Height, images[0].Width
	columns, rows := gridSize(len(images))
	canvas := imaging.New(columns*width, rows*height, color.NRGBA{A: 0xff})
	for k, img := range images {
		if img.Height != height || img.Width != width {
			return nil, errors.Errorf("tiled images must share a size: image %d is %dx%d, image 0 is %dx%d",
				k, img.Height, img.Width, height, width)
		}
		canvas = imaging.Paste(canvas, img.NRGBA(), image.Pt((k%columns)*width, (k/columns)*height))
	}
	return canvas, nil
}

// Untile splits a grid produced by Tile back into count images.
func Untile(grid *Image, count int) ([]*Image, error) {
	if count <= 0 {
		return nil, errors.Errorf("invalid number of tiled images %d", count)
	}
	columns, rows := gridSize(count)
	if grid.Height%rows != 0 || grid.Width%columns != 0 {
		return nil, errors.Errorf("tiled image of %dx%d cannot hold a %dx%d grid", grid.Height, grid.Width, rows, columns)
	}
	height, width := grid.Height/rows, grid.Width/columns
	images := make([]*Image, count)
	for k := range images {
		img := NewImage(height, width)
		top, left := (k/columns)*height, (k%columns)*width
		for y := 0; y < height; y++ {
			start := ((top+y)*grid.Width + left) * 3
			copy(img.Pix[y*width*3:(y+1)*width*3], grid.Pix[start:start+width*3])
		}
		images[k] = img
	}
	return images, nil
}
