package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCaptureStateIsExclusive(t *testing.T) {
	SetCaptureState("reading")
	SetCaptureState("opening")

	for _, s := range captureStates {
		want := 0.0
		if s == "opening" {
			want = 1
		}
		if got := testutil.ToFloat64(captureState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestFramesPublished(t *testing.T) {
	before := testutil.ToFloat64(framesPublished)
	IncFramesPublished(1700000000)
	IncFramesPublished(1700000001)

	if got := testutil.ToFloat64(framesPublished) - before; got != 2 {
		t.Errorf("frames published delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(lastFrameTime); got != 1700000001 {
		t.Errorf("last frame time = %v", got)
	}
}

func TestPullAndDeliveryCounters(t *testing.T) {
	stream := "video_stream_test"
	IncPull(stream, PullNoFrame)
	IncPull(stream, PullDelivered)
	IncPull(stream, PullDelivered)
	IncDeliveryError(stream, "backpressure")

	if got := testutil.ToFloat64(endpointPulls.WithLabelValues(stream, PullDelivered)); got != 2 {
		t.Errorf("delivered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(endpointPulls.WithLabelValues(stream, PullNoFrame)); got != 1 {
		t.Errorf("no_frame = %v, want 1", got)
	}
	if got := testutil.ToFloat64(deliveryErrors.WithLabelValues(stream, "backpressure")); got != 1 {
		t.Errorf("delivery errors = %v, want 1", got)
	}
}

func TestEncoderStatsCache(t *testing.T) {
	stream := "enc-test"
	DeleteEncoderStats(stream)

	if _, ok := GetEncoderStats(stream); ok {
		t.Fatal("expected no stats before first report")
	}

	SetEncoderStats(stream, EncoderStats{Frames: 100, FPS: 25, Dropped: 2, Speed: 1})
	got, ok := GetEncoderStats(stream)
	if !ok || got.Frames != 100 || got.Dropped != 2 {
		t.Errorf("stats = %+v, %v", got, ok)
	}
	if v := testutil.ToFloat64(encoderFPS.WithLabelValues(stream)); v != 25 {
		t.Errorf("fps gauge = %v, want 25", v)
	}

	DeleteEncoderStats(stream)
	if _, ok := GetEncoderStats(stream); ok {
		t.Error("expected stats removed")
	}
}

func TestEncoderStatsConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream := "concurrent"
			SetEncoderStats(stream, EncoderStats{Frames: int64(i)})
			GetEncoderStats(stream)
		}()
	}
	wg.Wait()
	DeleteEncoderStats("concurrent")
}

func TestSessionGauges(t *testing.T) {
	SetSessionActive("s1", true)
	SetSessionConsumers("s1", 3)
	if got := testutil.ToFloat64(sessionsActive.WithLabelValues("s1")); got != 1 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(sessionConsumers.WithLabelValues("s1")); got != 3 {
		t.Errorf("consumers = %v", got)
	}
	SetSessionActive("s1", false)
	if got := testutil.ToFloat64(sessionsActive.WithLabelValues("s1")); got != 0 {
		t.Errorf("active after stop = %v", got)
	}
}
