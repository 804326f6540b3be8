package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/camrelay/internal/source"
)

// PacingMode selects how the loop waits between published frames.
type PacingMode string

const (
	// PacingFixed sleeps one frame interval after every publish. Processing
	// time is not compensated, so throughput runs slightly below nominal.
	PacingFixed PacingMode = "fixed"
	// PacingDrift sleeps until the next multiple of the frame interval
	// since the source was opened.
	PacingDrift PacingMode = "drift"
)

// ParsePacing accepts "fixed", "drift" or "" (fixed).
func ParsePacing(s string) (PacingMode, error) {
	switch PacingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PacingFixed:
		return PacingFixed, nil
	case PacingDrift:
		return PacingDrift, nil
	default:
		return "", fmt.Errorf("unknown pacing mode %q (want fixed or drift)", s)
	}
}

// BackoffConfig is the capped exponential delay between failed reopens.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns 100ms doubling up to 5s.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before reopen attempt n (1-based).
func (b BackoffConfig) Delay(attempt int) time.Duration {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}

	delay := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		delay *= b.Multiplier
		if delay >= float64(b.Max) {
			return b.Max
		}
	}
	return min(time.Duration(delay), b.Max)
}

// Config is everything the acquisition loop needs.
type Config struct {
	Source  source.Identifier
	FPS     float64
	Pacing  PacingMode
	Backoff BackoffConfig
}

type pacer struct {
	mode     PacingMode
	interval time.Duration
	start    time.Time
	n        int64
}

func newPacer(mode PacingMode, fps float64) *pacer {
	p := &pacer{mode: mode}
	if fps > 0 {
		p.interval = time.Duration(float64(time.Second) / fps)
	}
	return p
}

func (p *pacer) reset(now time.Time) {
	p.start = now
	p.n = 0
}

// next returns how long to sleep after a frame published at now.
func (p *pacer) next(now time.Time) time.Duration {
	if p.interval <= 0 {
		return 0
	}
	if p.mode != PacingDrift {
		return p.interval
	}

	p.n++
	d := p.start.Add(time.Duration(p.n) * p.interval).Sub(now)
	if d < -p.interval {
		// Too far behind to catch up, start a new timeline.
		p.reset(now)
		return 0
	}
	return max(d, 0)
}
