package frame

import (
	"bytes"
	"image"
	"testing"
)

func solid(w, h int, r, g, b byte) *Frame {
	data := make([]byte, w*h*4)
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = r, g, b, 0xff
	}
	f, err := New(data, w, h, PixelRGBA)
	if err != nil {
		panic(err)
	}
	return f
}

func gradient(w, h int) *Frame {
	data := make([]byte, w*h*4)
	for y := range h {
		for x := range w {
			i := (y*w + x) * 4
			data[i] = byte(x * 255 / max(w-1, 1))
			data[i+1] = byte(y * 255 / max(h-1, 1))
			data[i+2] = byte((x + y) % 256)
			data[i+3] = 0xff
		}
	}
	f, _ := New(data, w, h, PixelRGBA)
	return f
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		w, h   int
		format PixelFormat
	}{
		{"planar source", make([]byte, 16), 2, 2, PixelI420},
		{"zero width", make([]byte, 16), 0, 2, PixelRGBA},
		{"short buffer", make([]byte, 15), 2, 2, PixelRGBA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.data, tt.w, tt.h, tt.format); err == nil {
				t.Error("expected error")
			}
		})
	}

	f, err := New(make([]byte, 2*2*3), 2, 2, PixelBGR24)
	if err != nil {
		t.Fatalf("bgr24: %v", err)
	}
	if f.Stride != 6 {
		t.Errorf("bgr24 stride = %d, want 6", f.Stride)
	}
}

func TestScaleDeterministic(t *testing.T) {
	src := gradient(97, 61)

	a := Scale(src, 640, 480)
	b := Scale(src, 640, 480)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("repeated Scale produced different pixels")
	}
	if a.Bounds() != image.Rect(0, 0, 640, 480) {
		t.Errorf("bounds = %v", a.Bounds())
	}

	ya, yb := ToI420(a), ToI420(b)
	if !bytes.Equal(ya, yb) {
		t.Fatal("repeated ToI420 produced different bytes")
	}
}

func TestScaleSameSizeCopies(t *testing.T) {
	src := gradient(8, 4)
	out := Scale(src, 8, 4)
	if !bytes.Equal(out.Pix, src.Data) {
		t.Error("same-size scale should copy pixels unchanged")
	}
	out.Pix[0] ^= 0xff
	if out.Pix[0] == src.Data[0] {
		t.Error("scaled image must not alias the frame buffer")
	}
}

func TestToI420Levels(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b byte
		y, u, v byte
	}{
		{"black", 0, 0, 0, 16, 128, 128},
		{"white", 255, 255, 255, 235, 128, 128},
		{"red", 255, 0, 0, 82, 90, 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := Scale(solid(4, 2, tt.r, tt.g, tt.b), 4, 2)
			out := ToI420(img)
			if len(out) != I420Size(4, 2) {
				t.Fatalf("len = %d, want %d", len(out), I420Size(4, 2))
			}
			for i := range 8 {
				if out[i] != tt.y {
					t.Fatalf("Y[%d] = %d, want %d", i, out[i], tt.y)
				}
			}
			if out[8] != tt.u || out[9] != tt.u {
				t.Errorf("U = %v, want %d", out[8:10], tt.u)
			}
			if out[10] != tt.v || out[11] != tt.v {
				t.Errorf("V = %v, want %d", out[10:12], tt.v)
			}
		})
	}
}

func TestI420SizeOddDimensions(t *testing.T) {
	if got := I420Size(3, 3); got != 9+2*4 {
		t.Errorf("I420Size(3,3) = %d, want 17", got)
	}
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	if got := len(ToI420(img)); got != 17 {
		t.Errorf("len(ToI420 3x3) = %d, want 17", got)
	}
}

func TestBGRImageSwapsChannels(t *testing.T) {
	f, err := New([]byte{10, 20, 30}, 1, 1, PixelBGR24)
	if err != nil {
		t.Fatal(err)
	}
	out := Scale(f, 1, 1)
	if got := out.Pix[:4]; !bytes.Equal(got, []byte{30, 20, 10, 255}) {
		t.Errorf("pixel = %v, want [30 20 10 255]", got)
	}
}
