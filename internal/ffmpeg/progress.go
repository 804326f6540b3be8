package ffmpeg

import (
	"strconv"
	"strings"
	"sync"
)

// Progress is one block of -progress output.
type Progress struct {
	Frame   int64
	FPS     float64
	Dropped int64
	Dups    int64
	Speed   float64
	Ended   bool
}

// ProgressParser accumulates -progress key=value lines and calls OnUpdate
// at the end of every block. It satisfies process.OutputHandler.
type ProgressParser struct {
	OnUpdate func(Progress)

	mu      sync.Mutex
	current Progress
}

// HandleLine consumes one output line; non-progress lines are ignored.
func (p *ProgressParser) HandleLine(_, line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}

	p.mu.Lock()
	switch key {
	case "frame":
		p.current.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.current.FPS, _ = strconv.ParseFloat(value, 64)
	case "drop_frames":
		p.current.Dropped, _ = strconv.ParseInt(value, 10, 64)
	case "dup_frames":
		p.current.Dups, _ = strconv.ParseInt(value, 10, 64)
	case "speed":
		p.current.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "x"), 64)
	case "progress":
		p.current.Ended = value == "end"
		snapshot := p.current
		p.mu.Unlock()
		if p.OnUpdate != nil {
			p.OnUpdate(snapshot)
		}
		return
	}
	p.mu.Unlock()
}
