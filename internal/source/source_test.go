package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/smazurov/camrelay/internal/ffmpeg"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		want    Identifier
		device  bool
		wantErr bool
	}{
		{in: "0", want: Identifier{Device: 0}, device: true},
		{in: " 3 ", want: Identifier{Device: 3}, device: true},
		{in: "clip.mp4", want: Identifier{Device: -1, Location: "clip.mp4"}},
		{in: "rtsp://cam/live", want: Identifier{Device: -1, Location: "rtsp://cam/live"}},
		{in: "testsrc:640x480", want: Identifier{Device: -1, Location: "testsrc:640x480"}},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIdentifier(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.IsDevice() != tt.device {
				t.Errorf("IsDevice = %v", got.IsDevice())
			}
		})
	}
}

func TestTestPatternSize(t *testing.T) {
	tests := []struct {
		loc     string
		w, h    int
		ok      bool
		wantErr bool
	}{
		{loc: "testsrc", ok: true},
		{loc: "testsrc:320x240", w: 320, h: 240, ok: true},
		{loc: "testsrc:320", ok: true, wantErr: true},
		{loc: "testsrc:0x240", ok: true, wantErr: true},
		{loc: "testsrcfoo"},
		{loc: "/tmp/testsrc"},
	}
	for _, tt := range tests {
		t.Run(tt.loc, func(t *testing.T) {
			w, h, ok, err := Identifier{Device: -1, Location: tt.loc}.TestPatternSize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if ok != tt.ok || (!tt.wantErr && (w != tt.w || h != tt.h)) {
				t.Errorf("got %dx%d ok=%v", w, h, ok)
			}
		})
	}
}

func TestOpenErrorMatchesSentinel(t *testing.T) {
	var err error = &OpenError{Identifier: Identifier{Device: 2}, Err: os.ErrNotExist}
	if !errors.Is(err, ErrSourceOpen) {
		t.Error("OpenError should match ErrSourceOpen")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("OpenError should unwrap its cause")
	}
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Identifier.Device != 2 {
		t.Errorf("errors.As = %+v", oe)
	}
}

func TestFFmpegOpenerMissingFile(t *testing.T) {
	o := &FFmpegOpener{}
	_, err := o.Open(context.Background(), Identifier{Device: -1, Location: filepath.Join(t.TempDir(), "nope.mp4")})
	if !errors.Is(err, ErrSourceOpen) {
		t.Fatalf("err = %v, want ErrSourceOpen", err)
	}
}

func TestFFmpegOpenerMissingDevice(t *testing.T) {
	o := &FFmpegOpener{}
	_, err := o.Open(context.Background(), Identifier{Device: 987})
	if !errors.Is(err, ErrSourceOpen) {
		t.Fatalf("err = %v, want ErrSourceOpen", err)
	}
}

// fakeDecoder installs a script in place of ffmpeg that writes n bytes of
// zeros and exits.
func fakeDecoder(t *testing.T, n int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nhead -c " + strconv.Itoa(n) + " /dev/zero\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	old := ffmpeg.Binary
	ffmpeg.Binary = path
	t.Cleanup(func() { ffmpeg.Binary = old })
}

func TestFFmpegReaderFramesThenEOF(t *testing.T) {
	// Two full 4x2 RGBA frames plus a partial one.
	fakeDecoder(t, 2*4*2*4+5)

	o := &FFmpegOpener{}
	r, err := o.Open(context.Background(), Identifier{Device: -1, Location: "testsrc:4x2"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i := 1; i <= 2; i++ {
		f, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Width != 4 || f.Height != 2 || len(f.Data) != 32 || f.Seq != uint64(i) {
			t.Errorf("frame %d = %dx%d len %d seq %d", i, f.Width, f.Height, len(f.Data), f.Seq)
		}
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("third read = %v, want io.EOF", err)
	}
}

func TestFFmpegReaderFreshBuffers(t *testing.T) {
	fakeDecoder(t, 2*2*2*4)

	r, err := (&FFmpegOpener{}).Open(context.Background(), Identifier{Device: -1, Location: "testsrc:2x2"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	a, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if &a.Data[0] == &b.Data[0] {
		t.Error("frames share a buffer")
	}
}

func TestProbeTestPattern(t *testing.T) {
	o := &FFmpegOpener{Width: 640, Height: 360, FPS: 25}
	info, err := o.Probe(context.Background(), Identifier{Device: -1, Location: TestPattern})
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 640 || info.Height != 360 || info.FPS != 25 {
		t.Errorf("info = %+v", info)
	}
}
