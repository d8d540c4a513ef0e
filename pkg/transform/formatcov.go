package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// FormatConverter applies one of the fixed style filters to a JPEG.
// The filters are deterministic per-pixel transforms; no external
// service is involved.
type FormatConverter struct{}

var _ Transformer = (*FormatConverter)(nil)

func NewFormatConverter() *FormatConverter {
	return &FormatConverter{}
}

func (f *FormatConverter) Run(ctx context.Context, params variant.Params, src []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("format conversion canceled", err)
	}

	style := params.TargetFormat
	if !variant.IsSupportedStyle(style) {
		return nil, Failf("unsupported style: %q", style)
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, Wrap("decode source image", err)
	}

	var out image.Image
	switch style {
	case "grayscale":
		out = applyGrayscale(img)
	case "comic":
		out = applyComic(img)
	case "abstract":
		out = applyAbstract(img)
	case "stylization":
		out = applyStylization(img)
	case "sketch":
		out = applySketch(img)
	case "color_pencil_sketch":
		out = applyColorPencilSketch(img)
	default:
		return nil, Failf("unsupported style: %q", style)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, Wrap("encode result image", err)
	}
	return &Result{Bytes: buf.Bytes(), ContentType: "image/jpeg"}, nil
}

func luminance(c color.Color) uint8 {
	r, g, b, _ := c.RGBA()
	// ITU-R BT.601 weights on 16-bit channels.
	y := (299*r + 587*g + 114*b) / 1000
	return uint8(y >> 8)
}

func applyGrayscale(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x, y, color.Gray{Y: luminance(img.At(x, y))})
		}
	}
	return out
}

// edgeMask marks pixels whose luminance gradient exceeds threshold.
func edgeMask(img image.Image, threshold int) [][]bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	lum := make([][]int, h)
	for y := 0; y < h; y++ {
		lum[y] = make([]int, w)
		for x := 0; x < w; x++ {
			lum[y][x] = int(luminance(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	mask := make([][]bool, h)
	for y := 0; y < h; y++ {
		mask[y] = make([]bool, w)
		for x := 0; x < w; x++ {
			if x == 0 || y == 0 {
				continue
			}
			dx := lum[y][x] - lum[y][x-1]
			dy := lum[y][x] - lum[y-1][x]
			if dx < 0 {
				dx = -dx
			}
			if dy < 0 {
				dy = -dy
			}
			if dx+dy > threshold {
				mask[y][x] = true
			}
		}
	}
	return mask
}

// applyComic quantizes colors and draws dark edges over them.
func applyComic(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	edges := edgeMask(img, 40)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if edges[y-b.Min.Y][x-b.Min.X] {
				out.Set(x, y, color.RGBA{A: 255})
				continue
			}
			r, g, bl, _ := img.At(x, y).RGBA()
			// Reduce each channel to 4 levels.
			q := func(v uint32) uint8 { return uint8((v >> 8) / 64 * 85) }
			out.Set(x, y, color.RGBA{R: q(r), G: q(g), B: q(bl), A: 255})
		}
	}
	return out
}

// rainbow maps a 0-255 intensity onto a coarse rainbow palette.
func rainbow(v uint8) color.RGBA {
	switch {
	case v < 43:
		return color.RGBA{R: 148, B: 211, A: 255}
	case v < 86:
		return color.RGBA{B: 255, A: 255}
	case v < 129:
		return color.RGBA{G: 255, A: 255}
	case v < 172:
		return color.RGBA{R: 255, G: 255, A: 255}
	case v < 215:
		return color.RGBA{R: 255, G: 127, A: 255}
	default:
		return color.RGBA{R: 255, A: 255}
	}
}

// applyAbstract posterizes blurred luminance and maps it through a
// rainbow palette.
func applyAbstract(img image.Image) image.Image {
	blurred := boxBlur(img, 4)
	b := blurred.Bounds()
	out := image.NewRGBA(b)
	const levels = 6
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := luminance(blurred.At(x, y))
			poster := uint8(int(v) / (256 / levels) * (255 / (levels - 1)))
			out.Set(x, y, rainbow(poster))
		}
	}
	return out
}

// applyStylization smooths regions and boosts saturation.
func applyStylization(img image.Image) image.Image {
	blurred := boxBlur(img, 2)
	b := blurred.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := blurred.At(x, y).RGBA()
			out.Set(x, y, boostSaturation(uint8(r>>8), uint8(g>>8), uint8(bl>>8), 1.4))
		}
	}
	return out
}

// applySketch renders edges as pencil strokes on a white page.
func applySketch(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewGray(b)
	edges := edgeMask(img, 24)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if edges[y-b.Min.Y][x-b.Min.X] {
				out.SetGray(x, y, color.Gray{Y: 40})
			} else {
				out.SetGray(x, y, color.Gray{Y: 245})
			}
		}
	}
	return out
}

// applyColorPencilSketch tints the sketch strokes with washed-out
// source color.
func applyColorPencilSketch(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	edges := edgeMask(img, 24)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			wash := func(v uint32) uint8 { return uint8((v>>8)/2 + 128) }
			c := color.RGBA{R: wash(r), G: wash(g), B: wash(bl), A: 255}
			if edges[y-b.Min.Y][x-b.Min.X] {
				c = color.RGBA{R: uint8(r >> 9), G: uint8(g >> 9), B: uint8(bl >> 9), A: 255}
			}
			out.Set(x, y, c)
		}
	}
	return out
}

// boxBlur is a single-pass box blur with the given radius.
func boxBlur(img image.Image, radius int) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var rs, gs, bs, n uint32
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					px, py := x+dx, y+dy
					if px < b.Min.X || px >= b.Max.X || py < b.Min.Y || py >= b.Max.Y {
						continue
					}
					r, g, bl, _ := img.At(px, py).RGBA()
					rs += r >> 8
					gs += g >> 8
					bs += bl >> 8
					n++
				}
			}
			out.Set(x, y, color.RGBA{R: uint8(rs / n), G: uint8(gs / n), B: uint8(bs / n), A: 255})
		}
	}
	return out
}

func boostSaturation(r, g, b uint8, factor float64) color.RGBA {
	mean := (float64(r) + float64(g) + float64(b)) / 3
	adjust := func(v uint8) uint8 {
		f := mean + (float64(v)-mean)*factor
		if f < 0 {
			f = 0
		}
		if f > 255 {
			f = 255
		}
		return uint8(f)
	}
	return color.RGBA{R: adjust(r), G: adjust(g), B: adjust(b), A: 255}
}
