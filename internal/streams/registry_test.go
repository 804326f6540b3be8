package streams

import (
	"errors"
	"testing"

	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/streaming"
)

type recordingMounter struct {
	paths  []string
	failAt string
}

func (m *recordingMounter) Mount(path string, src streaming.Source) error {
	if path == m.failAt {
		return errors.New("mount table full")
	}
	if src == nil {
		return errors.New("nil source")
	}
	m.paths = append(m.paths, path)
	return nil
}

func TestRegistryThreeStreamsShareSlot(t *testing.T) {
	slot := &frame.Slot{}
	reg, err := NewRegistry(3, EndpointConfig{Width: 640, Height: 480, FPS: 25}, slot)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"/video_stream1", "/video_stream2", "/video_stream3"}
	got := reg.Paths()
	if len(got) != len(want) {
		t.Fatalf("paths = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path %d = %s, want %s", i, got[i], want[i])
		}
	}

	for _, ep := range reg.Endpoints() {
		if _, err := ep.Pull(); !errors.Is(err, frame.ErrNoFrame) {
			t.Fatalf("%s: pull before publish = %v", ep.Path(), err)
		}
	}

	slot.Publish(testFrame(t, 320, 240, 1))
	for _, ep := range reg.Endpoints() {
		buf, err := ep.Pull()
		if err != nil {
			t.Fatalf("%s: %v", ep.Path(), err)
		}
		if buf.Width != 640 || buf.Height != 480 || buf.Index != 0 {
			t.Errorf("%s: buffer %dx%d index %d", ep.Path(), buf.Width, buf.Height, buf.Index)
		}
	}

	// Counters are independent.
	eps := reg.Endpoints()
	if _, err := eps[0].Pull(); err != nil {
		t.Fatal(err)
	}
	if eps[0].Counter() != 2 || eps[1].Counter() != 1 || eps[2].Counter() != 1 {
		t.Errorf("counters = %d %d %d", eps[0].Counter(), eps[1].Counter(), eps[2].Counter())
	}
}

func TestNewRegistryErrors(t *testing.T) {
	cfg := EndpointConfig{Width: 640, Height: 480, FPS: 25}
	if _, err := NewRegistry(0, cfg, &frame.Slot{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("count 0: %v", err)
	}
	if _, err := NewRegistry(2, EndpointConfig{Width: 640, Height: 480}, &frame.Slot{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero fps: %v", err)
	}
	if _, err := NewRegistry(2, cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil slot: %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(2, EndpointConfig{Width: 2, Height: 2, FPS: 1}, &frame.Slot{})
	if err != nil {
		t.Fatal(err)
	}
	if ep, ok := reg.Lookup("/video_stream2"); !ok || ep.Name() != "video_stream2" {
		t.Errorf("Lookup with slash = %v, %v", ep, ok)
	}
	if _, ok := reg.Lookup("video_stream1"); !ok {
		t.Error("Lookup without slash failed")
	}
	if _, ok := reg.Lookup("/video_stream3"); ok {
		t.Error("Lookup found a stream past the count")
	}
}

func TestRegistryRegister(t *testing.T) {
	reg, err := NewRegistry(3, EndpointConfig{Width: 2, Height: 2, FPS: 1}, &frame.Slot{})
	if err != nil {
		t.Fatal(err)
	}

	m := &recordingMounter{}
	if err := reg.Register(m); err != nil {
		t.Fatal(err)
	}
	if len(m.paths) != 3 || m.paths[2] != "/video_stream3" {
		t.Errorf("mounted %v", m.paths)
	}

	failing := &recordingMounter{failAt: "/video_stream2"}
	if err := reg.Register(failing); err == nil {
		t.Error("expected mount failure")
	}
	if len(failing.paths) != 1 {
		t.Errorf("mounted after failure: %v", failing.paths)
	}
}

func TestRegistryURLs(t *testing.T) {
	reg, err := NewRegistry(2, EndpointConfig{Width: 2, Height: 2, FPS: 1}, &frame.Slot{})
	if err != nil {
		t.Fatal(err)
	}
	urls := reg.URLs("192.168.1.10", 8554)
	if urls[0] != "rtsp://192.168.1.10:8554/video_stream1" || urls[1] != "rtsp://192.168.1.10:8554/video_stream2" {
		t.Errorf("urls = %v", urls)
	}
	if got := reg.URLs("fe80::1", 8554)[0]; got != "rtsp://[fe80::1]:8554/video_stream1" {
		t.Errorf("ipv6 url = %s", got)
	}
}
