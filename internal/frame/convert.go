package frame

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Image returns a read-only view of the frame. RGBA frames are wrapped
// without copying.
func (f *Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case PixelRGBA:
		return &image.RGBA{Pix: f.Data, Stride: f.Stride, Rect: rect}
	case PixelBGR24:
		return &bgrImage{pix: f.Data, stride: f.Stride, rect: rect}
	default:
		return image.NewRGBA(image.Rectangle{})
	}
}

// Scale resizes f to width x height with a bilinear filter. Equal geometry
// is copied unfiltered. The result is deterministic for a given input.
func Scale(f *Frame, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	src := f.Image()
	if f.Width == width && f.Height == height {
		draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
		return dst
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// ToI420 converts img to planar YUV 4:2:0 using BT.601 limited range.
// Chroma is the average of each 2x2 block; odd edges reuse the last row or column.
func ToI420(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2

	out := make([]byte, w*h+2*cw*ch)
	yPlane := out[:w*h]
	uPlane := out[w*h : w*h+cw*ch]
	vPlane := out[w*h+cw*ch:]

	px := func(x, y int) (int32, int32, int32) {
		i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
		return int32(img.Pix[i]), int32(img.Pix[i+1]), int32(img.Pix[i+2])
	}

	for y := range h {
		for x := range w {
			r, g, bl := px(x, y)
			yPlane[y*w+x] = clamp(((66*r + 129*g + 25*bl + 128) >> 8) + 16)
		}
	}

	for cy := range ch {
		y0, y1 := 2*cy, min(2*cy+1, h-1)
		for cx := range cw {
			x0, x1 := 2*cx, min(2*cx+1, w-1)
			var rs, gs, bs int32
			for _, p := range [4][2]int{{x0, y0}, {x1, y0}, {x0, y1}, {x1, y1}} {
				r, g, bl := px(p[0], p[1])
				rs, gs, bs = rs+r, gs+g, bs+bl
			}
			r, g, bl := (rs+2)/4, (gs+2)/4, (bs+2)/4
			uPlane[cy*cw+cx] = clamp(((-38*r - 74*g + 112*bl + 128) >> 8) + 128)
			vPlane[cy*cw+cx] = clamp(((112*r - 94*g - 18*bl + 128) >> 8) + 128)
		}
	}
	return out
}

// I420Size is the byte length of a width x height I420 picture.
func I420Size(width, height int) int {
	return width*height + 2*((width+1)/2)*((height+1)/2)
}

func clamp(v int32) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return byte(v)
}

// bgrImage adapts packed BGR24 data to image.Image.
type bgrImage struct {
	pix    []byte
	stride int
	rect   image.Rectangle
}

func (b *bgrImage) ColorModel() color.Model { return color.RGBAModel }

func (b *bgrImage) Bounds() image.Rectangle { return b.rect }

func (b *bgrImage) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(b.rect)) {
		return color.RGBA{}
	}
	i := y*b.stride + x*3
	return color.RGBA{R: b.pix[i+2], G: b.pix[i+1], B: b.pix[i], A: 0xff}
}
