package pipeline

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math/rand"

	"github.com/glowworks/atelier/errors"
)

// GrainOptions parameterizes the film grain post-process.
type GrainOptions struct {
	// Strength is the maximum per-pixel luminance offset in 8-bit
	// channel units. Zero disables the filter.
	Strength float64
	// Seed fixes the pseudo-random pattern so identical inputs and
	// parameters always produce identical output bytes.
	Seed int64
}

// ApplyGrain overlays monochromatic film grain on an encoded image
// and re-encodes it as PNG. The transform is pure: no I/O, and fully
// deterministic for a given seed.
func ApplyGrain(data []byte, opts GrainOptions) ([]byte, error) {
	if opts.Strength == 0 {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image for grain filter")
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	rng := rand.New(rand.NewSource(opts.Seed))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := src.At(x, y).RGBA()

			// One noise sample per pixel, applied to all channels,
			// reads as luminance grain rather than color speckle.
			noise := (rng.Float64()*2 - 1) * opts.Strength

			dst.SetRGBA(x, y, color.RGBA{
				R: clampChannel(float64(r>>8) + noise),
				G: clampChannel(float64(g>>8) + noise),
				B: clampChannel(float64(b>>8) + noise),
				A: uint8(a >> 8),
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, errors.Wrap(err, "encoding grained image")
	}
	return buf.Bytes(), nil
}

func clampChannel(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
