// Package source opens frame sources: V4L2 devices, files, network URLs and
// the synthetic test pattern.
package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smazurov/camrelay/internal/frame"
)

// ErrSourceOpen matches every error returned by a failed Open.
var ErrSourceOpen = errors.New("source open failed")

// TestPattern is the location selecting the synthetic test source.
const TestPattern = "testsrc"

// Identifier names a frame source: a device index or a path/URI.
type Identifier struct {
	Device   int // -1 when Location is used
	Location string
}

// ParseIdentifier treats an integer as a device index and anything else as
// a location.
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identifier{}, errors.New("empty video source")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Identifier{}, fmt.Errorf("invalid device index %d", n)
		}
		return Identifier{Device: n}, nil
	}
	return Identifier{Device: -1, Location: s}, nil
}

// IsDevice reports whether the identifier is a device index.
func (id Identifier) IsDevice() bool {
	return id.Location == "" && id.Device >= 0
}

func (id Identifier) String() string {
	if id.IsDevice() {
		return strconv.Itoa(id.Device)
	}
	return id.Location
}

// TestPatternSize returns the WxH suffix of a "testsrc:WxH" location.
// ok is false when the identifier is not a test pattern; zero sizes mean
// no size was given.
func (id Identifier) TestPatternSize() (w, h int, ok bool, err error) {
	if id.Location != TestPattern && !strings.HasPrefix(id.Location, TestPattern+":") {
		return 0, 0, false, nil
	}
	size, found := strings.CutPrefix(id.Location, TestPattern+":")
	if !found {
		return 0, 0, true, nil
	}
	ws, hs, found := strings.Cut(size, "x")
	if !found {
		return 0, 0, true, fmt.Errorf("invalid test pattern size %q", size)
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, true, fmt.Errorf("invalid test pattern size %q", size)
	}
	return w, h, true, nil
}

// OpenError is returned when a source cannot be opened.
type OpenError struct {
	Identifier Identifier
	Err        error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open source %s: %v", e.Identifier, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSourceOpen) hold for every OpenError.
func (e *OpenError) Is(target error) bool { return target == ErrSourceOpen }

// Opener opens a frame source.
type Opener interface {
	Open(ctx context.Context, id Identifier) (Reader, error)
}

// Reader yields decoded frames. ReadFrame returns io.EOF at end of stream.
// Every returned frame owns a freshly allocated buffer.
type Reader interface {
	ReadFrame() (*frame.Frame, error)
	Close() error
}
